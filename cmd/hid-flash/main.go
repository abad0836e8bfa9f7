package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bigbag/stm32-hid-bootloader/internal/detect"
	"github.com/bigbag/stm32-hid-bootloader/internal/flasher"
	"github.com/bigbag/stm32-hid-bootloader/internal/protocol"
	"github.com/bigbag/stm32-hid-bootloader/internal/serial"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	verboseFlag    bool
	retriesFlag    int
	ackTimeoutFlag time.Duration
	baudFlag       int
	attemptsFlag   int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "hid-flash <firmware_file> <serial_port> [delay_seconds]",
		Short: "Flash firmware to STM32 boards running the HID bootloader",
		Long: `hid-flash uploads a raw binary to an STM32 board through the USB HID
bootloader (1209:BEBA).

If the application is running, the serial port is used to ask it to restart
into the bootloader first. The optional delay gives the board time to
re-enumerate before the HID device is opened.`,
		Args:          cobra.RangeArgs(2, 3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runFlash,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verboseFlag {
				logrus.SetLevel(logrus.DebugLevel)
			}
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Verbose output")
	rootCmd.Flags().IntVar(&retriesFlag, "retries", flasher.DefaultRetries, "Write attempts per report")
	rootCmd.Flags().DurationVar(&ackTimeoutFlag, "ack-timeout", flasher.DefaultAckTimeout, "Time to wait for each page acknowledgment")
	rootCmd.Flags().IntVarP(&baudFlag, "baud", "b", serial.DefaultBaudRate, "Baud rate for the bootloader trigger")
	rootCmd.Flags().IntVar(&attemptsFlag, "attempts", detect.DefaultAttempts, "Attempts to open the HID device, one second apart")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("hid-flash %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List serial ports and connected bootloaders",
		RunE:  runList,
	}

	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "Show connected bootloader devices",
		RunE:  runInfo,
	}

	simulateCmd := &cobra.Command{
		Use:   "simulate <firmware_file>",
		Short: "Upload a file into a simulated bootloader",
		Long: `Run the bootloader core against simulated STM32F103 hardware and stream
the file into it over a virtual USB bus. Useful to check an image and the
upload path without a board.`,
		Args: cobra.ExactArgs(1),
		RunE: runSimulate,
	}

	rootCmd.AddCommand(versionCmd, listCmd, infoCmd, simulateCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "> Error: %v\n", err)
		os.Exit(1)
	}
}

func readFirmware(path string) ([]byte, error) {
	firmware, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read firmware file")
	}
	if len(firmware) == 0 {
		return nil, errors.Errorf("firmware file %s is empty", path)
	}
	return firmware, nil
}

func newProgressBar(pages int) *progressbar.ProgressBar {
	return progressbar.NewOptions(pages,
		progressbar.OptionSetDescription("Flashing"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(false),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}

func runFlash(cmd *cobra.Command, args []string) error {
	firmwarePath, portName := args[0], args[1]

	var settle time.Duration
	if len(args) == 3 {
		secs, err := strconv.ParseUint(args[2], 10, 8)
		if err != nil {
			return errors.Wrapf(err, "invalid delay %q", args[2])
		}
		settle = time.Duration(secs) * time.Second
	}

	firmware, err := readFirmware(firmwarePath)
	if err != nil {
		return err
	}
	pages := protocol.CalculatePages(len(firmware))
	fmt.Printf("Firmware: %s (%d bytes, %d pages)\n", firmwarePath, len(firmware), pages)

	fmt.Printf("> Triggering bootloader on %s...\n", portName)
	if _, err := serial.NewTrigger(baudFlag, settle).EnterBootloader(portName); err != nil {
		return err
	}

	if err := detect.Init(); err != nil {
		return err
	}
	defer detect.Exit()

	fmt.Printf("> Searching for %04X:%04X HID device...\n", protocol.VendorID, protocol.ProductID)
	d := detect.New()
	d.Attempts = attemptsFlag
	dev, err := d.Open()
	if err != nil {
		return err
	}
	defer dev.Close()
	fmt.Println("> Device found")

	bar := newProgressBar(pages)
	f := flasher.New(dev,
		flasher.WithRetries(retriesFlag),
		flasher.WithAckTimeout(ackTimeoutFlag),
		flasher.WithLogger(logrus.StandardLogger()),
	)
	f.SetProgressCallback(func(current, total int) {
		bar.Set(current)
	})

	if err := f.Flash(firmware); err != nil {
		return err
	}
	bar.Finish()

	fmt.Println("\n> Flash complete, device is rebooting")
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	ports, err := serial.ListPorts()
	if err != nil {
		return err
	}

	if len(ports) == 0 {
		fmt.Println("No serial ports found")
	} else {
		fmt.Println("Available serial ports:")
		for _, p := range ports {
			fmt.Printf("  %s\n", p)
		}
	}

	if err := detect.Init(); err != nil {
		return err
	}
	defer detect.Exit()

	devices, err := detect.New().List()
	if err != nil {
		return err
	}
	fmt.Printf("\nHID bootloaders (%04X:%04X): %d\n", protocol.VendorID, protocol.ProductID, len(devices))
	for _, d := range devices {
		fmt.Printf("  %s\n", d.Path)
	}
	return nil
}

func runInfo(cmd *cobra.Command, args []string) error {
	if err := detect.Init(); err != nil {
		return err
	}
	defer detect.Exit()

	devices, err := detect.New().List()
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Println("No HID bootloader devices found")
		return nil
	}
	if err := detect.Describe(devices); err != nil {
		logrus.Warnf("bus information unavailable: %v", err)
	}

	fmt.Printf("Found %d device(s):\n\n", len(devices))
	for i, d := range devices {
		fmt.Printf("Device %d:\n", i+1)
		printDeviceInfo(&d)
		fmt.Println()
	}
	return nil
}

func printDeviceInfo(d *detect.Result) {
	fmt.Printf("  Path:         %s\n", d.Path)
	fmt.Printf("  Manufacturer: %s\n", d.Manufacturer)
	fmt.Printf("  Product:      %s\n", d.Product)
	fmt.Printf("  Release:      %x.%02x\n", d.Release>>8, d.Release&0xFF)
	if d.Serial != "" {
		fmt.Printf("  Serial:       %s\n", d.Serial)
	}
	if d.Bus != 0 {
		fmt.Printf("  Bus/Address:  %03d/%03d (%s)\n", d.Bus, d.Address, d.Speed)
	}
}
