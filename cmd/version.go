///////////////////////////////////////////////////////////////////////////////
// Copyright © 2020 xx network SEZC                                          //
//                                                                           //
// Use of this source code is governed by a license that can be found in the //
// LICENSE file                                                              //
///////////////////////////////////////////////////////////////////////////////

package cmd

import (
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"
	"gitlab.com/elixxir/ckptbench/comms"
)

const SEMVER = "1.0.0"

// GITVERSION is set at build time with
// -ldflags "-X gitlab.com/elixxir/ckptbench/cmd.GITVERSION=<commit>"
var GITVERSION = "unknown"

func init() {
	rootCmd.AddCommand(versionCmd)
}

// dependencies lists the modules the binary was built with
func dependencies() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unavailable\n"
	}
	var b strings.Builder
	for _, dep := range info.Deps {
		fmt.Fprintf(&b, "%s %s\n", dep.Path, dep.Version)
	}
	return b.String()
}

func printVersion() {
	fmt.Printf("ckptbench v%s -- %s (protocol %d)\n\n", SEMVER, GITVERSION,
		comms.ProtocolVersion)
	fmt.Printf("Dependencies:\n\n%s\n", dependencies())
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of ckptbench",
	Long: `Print the version number of ckptbench. This also prints
the versions of all of its dependencies.`,
	Run: func(cmd *cobra.Command, args []string) {
		printVersion()
	},
}
