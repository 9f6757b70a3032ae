package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/shadowmesh/raknet/pkg/rakping"
)

var timeout time.Duration

func main() {
	root := &cobra.Command{
		Use:   "raknet-ping [address]",
		Short: "Send an unconnected ping to a RakNet-compatible server",
		Args:  cobra.ExactArgs(1),
		RunE:  runPing,
	}
	root.Flags().DurationVarP(&timeout, "timeout", "t", 3*time.Second, "how long to wait for a pong")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runPing(cmd *cobra.Command, args []string) error {
	result, err := rakping.Ping(args[0], timeout)
	if err != nil {
		return err
	}
	fmt.Printf("guid=%d motd=%q rtt=%s\n", result.GUID, result.MOTD, result.RTT)
	return nil
}
