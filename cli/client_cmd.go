package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/lfkeitel/stftpu/internal"
	"github.com/lfkeitel/stftpu/tftp"
	"github.com/spf13/cobra"
)

func SendCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "send <peer> <local> [remote] [mode]",
		Aliases: []string{"put"},
		Short:   "Send a local file to a TFTP server",
		Args:    cobra.RangeArgs(2, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOperation(cmd, tftp.OperationSend, args)
		},
	}
}

func ReceiveCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "receive <peer> <local> [remote] [mode]",
		Aliases: []string{"get"},
		Short:   "Receive a file from a TFTP server",
		Args:    cobra.RangeArgs(2, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOperation(cmd, tftp.OperationReceive, args)
		},
	}
}

func DeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <peer> <file>",
		Aliases: []string{"rm"},
		Short:   "Delete a file on a TFTP server",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOperation(cmd, tftp.OperationDelete, args)
		},
	}
}

// operationArgs turns positional arguments into an operation description.
func operationArgs(op tftp.Operation, args []string, cfg *internal.ClientConfig) (*tftp.OperationData, error) {
	port, mode := internal.DefaultTFTPPort, internal.DefaultMode
	if cfg != nil {
		if cfg.Port > 0 {
			port = cfg.Port
		}
		if cfg.Mode != "" {
			mode = cfg.Mode
		}
	}

	peer, err := parsePeer(args[0], port)
	if err != nil {
		return nil, err
	}
	local, remote := args[1], ""
	if len(args) > 2 {
		remote = args[2]
	}
	if len(args) > 3 {
		mode = args[3]
	}
	return tftp.NewOperationData(op, peer, local, remote, mode)
}

// parsePeer resolves host[:port]. The port defaults to defaultPort.
func parsePeer(peer string, defaultPort int) (*net.UDPAddr, error) {
	host, port, err := net.SplitHostPort(peer)
	if err != nil {
		host = strings.Trim(peer, "[]")
		port = strconv.Itoa(defaultPort)
	}
	if host == "" {
		return nil, fmt.Errorf("invalid peer %q", peer)
	}
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, port))
	if err != nil {
		return nil, fmt.Errorf("resolve peer %q: %w", peer, err)
	}
	return addr, nil
}

func runOperation(cmd *cobra.Command, op tftp.Operation, args []string) error {
	data, err := operationArgs(op, args, GetClientConfig(cmd))
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fields := internal.Fields{
		internal.FieldOp:   op.String(),
		internal.FieldPeer: data.Peer.String(),
		internal.FieldFile: data.RemoteName,
		internal.FieldMode: data.Mode,
	}

	res, err := execute(ctx, tftp.NewClient(), data)
	if err != nil {
		fields[internal.FieldError] = err.Error()
		internal.Error("Operation aborted.", fields)
		return err
	}

	fields[internal.FieldBytes] = res.Bytes
	fields[internal.FieldElapsed] = res.Elapsed.String()
	internal.Info("Operation completed.", fields)
	return nil
}

func execute(ctx context.Context, client *tftp.Client, data *tftp.OperationData) (tftp.Result, error) {
	switch data.Op {
	case tftp.OperationSend:
		f, err := os.Open(data.LocalName)
		if err != nil {
			return tftp.Result{}, err
		}
		defer f.Close()
		return client.Send(ctx, data, f)
	case tftp.OperationReceive:
		return receiveFile(ctx, client, data)
	case tftp.OperationDelete:
		return client.Delete(ctx, data)
	}
	return tftp.Result{}, fmt.Errorf("unknown operation %s", data.Op)
}

// receiveFile writes into a temporary file next to the destination and only
// renames it into place once the transfer completed.
func receiveFile(ctx context.Context, client *tftp.Client, data *tftp.OperationData) (tftp.Result, error) {
	dir, base := filepath.Split(data.LocalName)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, "."+base+".part-*")
	if err != nil {
		return tftp.Result{}, err
	}

	res, err := client.Receive(ctx, data, tmp)
	err = errors.Join(err, tmp.Close())
	if err != nil {
		_ = os.Remove(tmp.Name())
		return res, err
	}
	_ = os.Chmod(tmp.Name(), 0o644)
	if err := os.Rename(tmp.Name(), data.LocalName); err != nil {
		_ = os.Remove(tmp.Name())
		return res, err
	}
	return res, nil
}
