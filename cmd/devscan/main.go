package main

import (
	"flag"
	"fmt"
	"os"
	"runtime/debug"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/driftos/devscan"
	"github.com/driftos/devscan/config"
	"github.com/driftos/devscan/dma"
	"github.com/driftos/devscan/drivers"
	"github.com/driftos/devscan/pcibus"
	"github.com/driftos/devscan/util"
)

// A version string that can be set with
//
//	-ldflags "-X main.Build=SOMEVERSION"
//
// at compile-time.
var Build string

func init() {
	if Build == "" {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}

		Build = strings.TrimPrefix(info.Main.Version, "v")
	}
}

func main() {
	configPath := flag.String("config", "", "Path to either a file or directory to load configuration from")
	configTest := flag.Bool("test", false, "Test the config and print the end result. Non zero exit indicates a faulty config")
	printVersion := flag.Bool("version", false, "Print version")
	printUsage := flag.Bool("help", false, "Print command line usage")

	flag.Parse()

	if *printVersion {
		fmt.Printf("Version: %s\n", Build)
		os.Exit(0)
	}

	if *printUsage {
		flag.Usage()
		os.Exit(0)
	}

	if *configPath == "" {
		fmt.Println("-config flag must be set")
		flag.Usage()
		os.Exit(1)
	}

	l := logrus.New()
	l.Out = os.Stdout

	c := config.NewC(l)
	err := c.Load(*configPath)
	if err != nil {
		fmt.Printf("failed to load config: %s", err)
		os.Exit(1)
	}

	// The CLI scans from userspace: PCI functions come from sysfs and
	// memory is identity mapped.
	root := pcibus.NewSysfsRoot(l)
	mem := dma.NewHostMemory()

	devices, err := devscan.Main(c, *configTest, Build, l, drivers.Catalog(), root, mem)
	if err != nil {
		util.LogWithContextIfNeeded("Failed to scan", err, l)
		os.Exit(1)
	}

	if !*configTest {
		printDevices(devices)
	}

	os.Exit(0)
}

func printDevices(devices *devscan.DeviceSet) {
	for _, class := range devscan.Classes() {
		for i, h := range devices.Handles(class) {
			fmt.Printf("%s%d: %s\n", class, i, h.Name())
		}
	}
}
