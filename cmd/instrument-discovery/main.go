// Command instrument-discovery lists every instrument resource reachable
// over USB serial, mDNS and the configured static list.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rjboer/GoBode/internal/discovery"
	"github.com/rjboer/GoBode/internal/logging"
)

func main() {
	timeout := flag.Int("timeout", 5, "mDNS browse timeout in seconds")
	noMDNS := flag.Bool("no-mdns", false, "Skip the LAN browse")
	static := flag.String("resources", "", "Comma separated static resource strings to validate")
	serial := flag.String("serial", "", "Show which resource a serial number selects")
	flag.Parse()

	logger := logging.New(logging.Warn, logging.Text, os.Stderr)
	enums := []discovery.Enumerator{discovery.SerialEnumerator{}}
	if !*noMDNS {
		enums = append(enums, discovery.MDNSEnumerator{Timeout: time.Duration(*timeout) * time.Second})
	}
	if *static != "" {
		enums = append(enums, discovery.StaticEnumerator(strings.Split(*static, ",")))
	}

	fmt.Println("===============================================================")
	fmt.Println(" Instrument Discovery")
	fmt.Println("===============================================================")
	if !*noMDNS {
		fmt.Printf(" mDNS timeout : %d seconds\n", *timeout)
	}
	fmt.Println("---------------------------------------------------------------")

	start := time.Now()
	found, err := discovery.Discover(context.Background(), logger, enums...)
	duration := time.Since(start)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Discovery error: %v\n", err)
		os.Exit(1)
	}
	printResources(os.Stdout, found, duration)

	if *serial != "" {
		res, err := discovery.Select(discovery.Names(found), *serial)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Select %q: %v\n", *serial, err)
			os.Exit(1)
		}
		fmt.Printf(" Serial %q selects %s\n", *serial, res)
	}
}

func printResources(w io.Writer, found []discovery.Resource, duration time.Duration) {
	if len(found) == 0 {
		fmt.Fprintf(w, "No instruments found (%s)\n", duration.Truncate(time.Millisecond))
		return
	}
	fmt.Fprintf(w, "Discovered %d resource(s) in %s\n", len(found), duration.Truncate(time.Millisecond))
	fmt.Fprintln(w, "===============================================================")
	for i, r := range found {
		fmt.Fprintf(w, " #%d [%s] %s\n", i+1, r.Source, r.Name)
		if r.Detail != "" {
			fmt.Fprintf(w, "     %s\n", r.Detail)
		}
	}
	fmt.Fprintln(w, "===============================================================")
}
