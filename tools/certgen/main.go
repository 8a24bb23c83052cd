// Package main generates a development Certificate Authority (CA), a server
// certificate and client certificates, writing them under the "certs"
// directory for the stego server and CLI.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/atinyakov/GophStego/internal/certgen"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		color.New(color.FgRed).Fprintln(os.Stderr, "certgen:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := flag.NewFlagSet("certgen", flag.ContinueOnError)
	dir := flags.String("dir", "certs", "output directory")
	hosts := flags.String("hosts", "localhost,127.0.0.1", "comma separated server host names and IPs")
	clients := flags.String("clients", "alice", "comma separated client names (certificate CN)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	if err := certgen.WriteDevBundle(*dir, splitList(*hosts), splitList(*clients)); err != nil {
		return err
	}
	color.New(color.FgGreen).Printf("✅ Certificates generated into %s\n", *dir)
	fmt.Printf("   server: %s/server.crt  clients: %s\n", *dir, *clients)
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
