// Copyright 2025 The FBF Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/guntherweissenbaeck/fbfregion/geocoding"
)

var debugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Dev tools",
}

var debugRungsCmd = &cobra.Command{
	Use:   "rungs",
	Short: "Prints the queries tried for each place",
	Long: `Reads one place per line and prints every query the resolver would send,
in order, preceded by the rule that produced it. Nothing is sent to the
geocoding service.

$ echo "Klinikum Jena" | fbf debug rungs
Klinikum Jena
	raw	Klinikum Jena
	country	Klinikum Jena, Deutschland
	drop-institution	Jena, Deutschland
`,
	RunE: func(_ *cobra.Command, _ []string) error {
		if isatty.IsTerminal(os.Stdin.Fd()) {
			fmt.Fprintln(os.Stderr, "Enter places to analyze, one per line…")
		}

		return printRungs(os.Stdin, os.Stdout)
	},
}

func printRungs(r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		place := scanner.Text()
		fmt.Fprintln(w, place)

		for rung := range geocoding.Rungs(place) {
			fmt.Fprintf(w, "\t%s\t%s\n", rung.Rule, rung.Query)
		}
	}

	return scanner.Err()
}

func init() {
	rootCmd.AddCommand(debugCmd)
	debugCmd.AddCommand(debugRungsCmd)
}
