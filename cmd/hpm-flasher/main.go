package main

import (
	"fmt"
	"io"
	"os"

	"github.com/schollz/progressbar/v3"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/bigbag/hpm-flasher/internal/algo"
	"github.com/bigbag/hpm-flasher/internal/detect"
	"github.com/bigbag/hpm-flasher/internal/serial"
	"github.com/bigbag/hpm-flasher/internal/session"
	"github.com/bigbag/hpm-flasher/internal/xpi"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	portFlag    string
	baudFlag    int
	scanFlag    string
	targetFlag  int
	algoFlag    string
	xpiCfgFlag  []string
	verboseFlag int

	addressFlag  string
	lengthFlag   string
	verifyFlag   bool
	identifyFlag bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "hpm-flasher",
		Short: "Program HPMicro XPI flash through a GDB debug probe",
		Long: `HPM Flasher programs the external XPI flash of HPMicro RISC-V
microcontrollers. It attaches to the target through a Black Magic Probe,
loads a flash algorithm into target RAM and runs it on the core.

The flash algorithm is embedded in this tool. Use --algo to replace it.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			initLogger(verboseFlag)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&portFlag, "port", "p", "", "Probe GDB serial port (auto-detect if not specified)")
	pf.IntVarP(&baudFlag, "baud", "b", serial.DefaultBaudRate, "Baud rate")
	pf.StringVar(&scanFlag, "scan", detect.DefaultScan, "Probe monitor command used to scan for targets")
	pf.IntVar(&targetFlag, "target", detect.DefaultTarget, "Target number to attach to")
	pf.StringVar(&algoFlag, "algo", "", "Replacement flash algorithm image")
	pf.StringSliceVar(&xpiCfgFlag, "xpi-cfg", nil, "flash_base,flash_size,xpi_base[,opt0[,opt1]] applied before the command")
	pf.CountVarP(&verboseFlag, "verbose", "v", "Verbose output (-vv for protocol trace)")

	chipInfoCmd := &cobra.Command{
		Use:   "chip-info",
		Short: "Show the identified chip family",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(func(s *session.Session) error {
				s.ChipInfo(cmd.OutOrStdout())
				return nil
			})
		},
	}

	xpiCfgCmd := &cobra.Command{
		Use:   "xpi-cfg <flash_base> <flash_size> <xpi_base> [opt0] [opt1]",
		Short: "Configure the flash controller and show the detected geometry",
		Long: `Replace the flash controller configuration, then run the flash
algorithm init and get-info calls with it and print the result.

With three arguments the header and option words keep their defaults.
A fourth argument sets opt0 and a fifth sets opt1.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(func(s *session.Session) error {
				if err := s.Configure(args); err != nil {
					return err
				}
				return s.Info(cmd.OutOrStdout())
			})
		},
	}

	xpiInfoCmd := &cobra.Command{
		Use:   "xpi-info",
		Short: "Show the configured and detected flash geometry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(func(s *session.Session) error {
				return s.Info(cmd.OutOrStdout())
			})
		},
	}

	flashCmd := &cobra.Command{
		Use:   "flash <image.bin>",
		Short: "Write an image to flash",
		Long: `Write a binary image to XPI flash.

The image is written at the start of flash unless --address is given.
Every sector the image touches is erased first.`,
		Args: cobra.ExactArgs(1),
		RunE: runFlash,
	}
	flashCmd.Flags().StringVar(&addressFlag, "address", "", "Flash address (default: start of flash)")
	flashCmd.Flags().BoolVar(&verifyFlag, "verify", true, "Verify after flashing")

	eraseCmd := &cobra.Command{
		Use:   "erase",
		Short: "Erase a flash range",
		Args:  cobra.NoArgs,
		RunE:  runErase,
	}
	eraseCmd.Flags().StringVar(&addressFlag, "address", "", "Start address")
	eraseCmd.Flags().StringVar(&lengthFlag, "length", "", "Length in bytes")
	eraseCmd.MarkFlagRequired("address")
	eraseCmd.MarkFlagRequired("length")

	massEraseCmd := &cobra.Command{
		Use:   "mass-erase",
		Short: "Erase the whole configured flash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(func(s *session.Session) error {
				if err := s.Region().MassErase(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Mass erase complete!")
				return nil
			})
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List debug probes and serial ports",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}
	listCmd.Flags().BoolVar(&identifyFlag, "identify", false, "Attach to each probe's target and identify the chip")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("hpm-flasher %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}

	rootCmd.AddCommand(chipInfoCmd, xpiCfgCmd, xpiInfoCmd, flashCmd, eraseCmd, massEraseCmd, listCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func initLogger(verbosity int) {
	log.SetFormatter(&prefixed.TextFormatter{
		TimestampFormat: "15:04:05",
		FullTimestamp:   true,
	})
	log.SetOutput(os.Stderr)

	switch {
	case verbosity >= 2:
		log.SetLevel(log.TraceLevel)
	case verbosity == 1:
		log.SetLevel(log.DebugLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}
}

// withSession attaches to the target, sets up a session and runs fn.
func withSession(fn func(s *session.Session) error) error {
	portName := portFlag
	if portName == "" {
		p, err := detect.DetectProbe()
		if err != nil {
			return fmt.Errorf("probe detection failed: %w", err)
		}
		portName = p.Port
		log.Infof("Found %s on %s", p.Name, p.Port)
	}

	var image []byte
	if algoFlag != "" {
		data, err := os.ReadFile(algoFlag)
		if err != nil {
			return fmt.Errorf("failed to read flash algorithm: %w", err)
		}
		image = data
	}
	loader, err := algo.NewLoader(image)
	if err != nil {
		return err
	}

	port, client, err := detect.Open(portName, detect.Options{
		BaudRate: baudFlag,
		Scan:     scanFlag,
		Target:   targetFlag,
	})
	if err != nil {
		return err
	}
	defer port.Close()
	defer func() {
		// A timed-out algorithm call leaves the core running.
		if client.Running() {
			if err := client.Halt(); err != nil {
				log.Warnf("failed to halt target: %v", err)
			}
		}
		if err := client.Detach(); err != nil {
			log.Warnf("failed to detach: %v", err)
		}
	}()

	s, err := session.Probe(client, loader)
	if err != nil {
		return err
	}
	if len(xpiCfgFlag) > 0 {
		if err := s.Configure(xpiCfgFlag); err != nil {
			return fmt.Errorf("--xpi-cfg: %w", err)
		}
	}
	return fn(s)
}

func runFlash(cmd *cobra.Command, args []string) error {
	imagePath := args[0]

	image, err := os.ReadFile(imagePath)
	if err != nil {
		return fmt.Errorf("failed to read image file: %w", err)
	}
	if len(image) == 0 {
		return fmt.Errorf("image file %s is empty", imagePath)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Image: %s (%d bytes)\n", imagePath, len(image))

	return withSession(func(s *session.Session) error {
		address := s.Config().FlashBase
		if addressFlag != "" {
			a, err := xpi.ParseUint32(addressFlag)
			if err != nil {
				return fmt.Errorf("--address: %w", err)
			}
			address = a
		}

		region := s.Region()
		bar := progressbar.NewOptions(len(image),
			progressbar.OptionSetDescription("Flashing"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionThrottle(100),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
		region.SetProgressCallback(func(current, total int) {
			bar.Set(current)
		})

		fmt.Fprintf(out, "Flashing %s at 0x%08X...\n", s.Driver(), address)
		if err := region.Flash(image, address, verifyFlag); err != nil {
			return err
		}

		bar.Finish()
		if verifyFlag {
			fmt.Fprintln(out, "Verified.")
		}
		fmt.Fprintln(out, "Flash complete!")
		return nil
	})
}

func runErase(cmd *cobra.Command, args []string) error {
	address, err := xpi.ParseUint32(addressFlag)
	if err != nil {
		return fmt.Errorf("--address: %w", err)
	}
	length, err := xpi.ParseUint32(lengthFlag)
	if err != nil {
		return fmt.Errorf("--length: %w", err)
	}

	return withSession(func(s *session.Session) error {
		if err := s.Region().Erase(address, length); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Erased 0x%08X+0x%X\n", address, length)
		return nil
	})
}

func printIdentity(out io.Writer, portName string) {
	result, err := detect.Identify(portName, detect.Options{
		BaudRate: baudFlag,
		Scan:     scanFlag,
		Target:   targetFlag,
	})
	if err != nil {
		fmt.Fprintf(out, "    Chip:  (%v)\n", err)
		return
	}
	fmt.Fprintf(out, "    Chip:  %s\n", result.ChipName)
	fmt.Fprintf(out, "    Magic: 0x%08X\n", result.Magic)
}

func runList(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	probes, err := detect.ListProbes()
	if err != nil {
		return err
	}
	if len(probes) == 0 {
		fmt.Fprintln(out, "No debug probes found")
	} else {
		fmt.Fprintln(out, "Debug probes:")
		for _, p := range probes {
			fmt.Fprintf(out, "  %s  %s (serial %s)\n", p.Port, p.Name, p.Serial)
			if identifyFlag {
				printIdentity(out, p.Port)
			}
		}
	}

	ports, err := serial.ListPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Fprintln(out, "No serial ports found")
		return nil
	}

	fmt.Fprintln(out, "Available serial ports:")
	for _, p := range ports {
		fmt.Fprintf(out, "  %s\n", p)
	}
	return nil
}
