// Command raknet-chat is a line-oriented chat demo: a server that
// broadcasts every packet it receives to every other connected peer,
// and a client that forwards stdin lines to the server and prints
// whatever comes back.
package main

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/shadowmesh/raknet/pkg/logging"
	"github.com/shadowmesh/raknet/pkg/rakclient"
	"github.com/shadowmesh/raknet/pkg/rakserver"
)

func main() {
	root := &cobra.Command{Use: "raknet-chat"}

	var serverAddr string
	var serverGUID uint64
	var motd string
	serverCmd := &cobra.Command{
		Use:   "server",
		Short: "Run the chat relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChatServer(serverAddr, serverGUID, motd)
		},
	}
	serverCmd.Flags().StringVarP(&serverAddr, "listen", "l", "127.0.0.1:19132", "address to listen on")
	serverCmd.Flags().Uint64Var(&serverGUID, "guid", 0x1919, "server GUID")
	serverCmd.Flags().StringVar(&motd, "motd", "raknet chat", "MOTD returned on unconnected ping")

	var connectAddr string
	var clientGUID uint64
	clientCmd := &cobra.Command{
		Use:   "client",
		Short: "Join the chat as a client",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChatClient(connectAddr, clientGUID)
		},
	}
	clientCmd.Flags().StringVarP(&connectAddr, "connect", "a", "127.0.0.1:19132", "server address to connect to")
	clientCmd.Flags().Uint64Var(&clientGUID, "guid", 0, "client GUID, 0 generates one from the current time")

	root.AddCommand(serverCmd, clientCmd)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runChatServer(addr string, guid uint64, motd string) error {
	log, err := logging.NewLogger("server", logging.INFO, "")
	if err != nil {
		return err
	}
	defer log.Close()

	srv, err := rakserver.Listen(addr, guid, motd, log, rakserver.Options{})
	if err != nil {
		return err
	}
	defer srv.Close()

	var mu sync.Mutex
	peers := make(map[uint64]*rakserver.Peer)

	go func() {
		for ev := range srv.Events() {
			switch ev.Type {
			case rakserver.EventConnected:
				mu.Lock()
				peers[ev.GUID] = ev.Peer
				mu.Unlock()
				fmt.Printf("peer %d connected from %s\n", ev.GUID, ev.Peer.Addr)
			case rakserver.EventDisconnected:
				mu.Lock()
				delete(peers, ev.GUID)
				mu.Unlock()
				fmt.Printf("peer %d disconnected\n", ev.GUID)
			case rakserver.EventPacket:
				mu.Lock()
				for guid, peer := range peers {
					if guid == ev.GUID {
						continue
					}
					peer.Send(ev.Data)
				}
				mu.Unlock()
			}
		}
	}()

	fmt.Printf("chat server listening on %s\n", addr)
	return srv.Serve()
}

func runChatClient(addr string, guid uint64) error {
	if guid == 0 {
		guid = uint64(time.Now().UnixMilli())
	}

	log, err := logging.NewLogger("client", logging.INFO, "")
	if err != nil {
		return err
	}
	defer log.Close()

	client, err := rakclient.New(guid, "", log)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Connect(addr); err != nil {
		return err
	}

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			client.Packet(scanner.Bytes())
		}
	}()

	for ev := range client.Events() {
		switch ev.Type {
		case rakclient.EventConnected:
			fmt.Println("connected, type to chat")
		case rakclient.EventConnectionFailed:
			return fmt.Errorf("connection failed: reason=%d", ev.Reason)
		case rakclient.EventPacket:
			fmt.Printf("%s\n", ev.Data)
		case rakclient.EventDisconnected:
			return nil
		}
	}
	return nil
}
