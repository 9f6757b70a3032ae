package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shadowmesh/raknet/pkg/logging"
	"github.com/shadowmesh/raknet/pkg/rakclient"
)

var (
	remoteAddr string
	localAddr  string
	guid       uint64
	logLevel   string
)

func main() {
	root := &cobra.Command{
		Use:   "raknet-client",
		Short: "Connect to a RakNet-compatible server and exchange line-delimited packets over stdin/stdout",
		RunE:  runClient,
	}
	root.Flags().StringVarP(&remoteAddr, "connect", "a", "", "server address to connect to, host:port")
	root.Flags().StringVar(&localAddr, "bind", "", "local address to bind, empty for any port")
	root.Flags().Uint64Var(&guid, "guid", 0, "client GUID to present during the handshake")
	root.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	root.MarkFlagRequired("connect")
	root.MarkFlagRequired("guid")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runClient(cmd *cobra.Command, args []string) error {
	log, err := logging.NewLogger("client", logging.ParseLevel(logLevel), "")
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Close()

	client, err := rakclient.New(guid, localAddr, log)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer client.Close()

	if err := client.Connect(remoteAddr); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go readStdinLoop(client, log)

	for {
		select {
		case ev := <-client.Events():
			switch ev.Type {
			case rakclient.EventConnected:
				log.Info("connected")
			case rakclient.EventConnectionFailed:
				log.Error("connection failed", logging.Fields{"reason": ev.Reason})
				return fmt.Errorf("connection failed")
			case rakclient.EventPacket:
				fmt.Printf("%s\n", ev.Data)
			case rakclient.EventDisconnected:
				log.Info("disconnected")
				return nil
			}
		case <-sigChan:
			client.Disconnect()
			return nil
		}
	}
}

func readStdinLoop(client *rakclient.Client, log *logging.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		client.Packet(scanner.Bytes())
	}
}
