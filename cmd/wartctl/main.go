// Command wartctl drives a wart worker over gRPC: it opens sessions, runs
// guest programs, commits epochs and stages key-value writes.
//
//	wartctl open [-namespace ns] [-parallelism n] [-io-timeout ms] [-exec-timeout ms] guest.wasm
//	wartctl run [-n count] token [args...]
//	wartctl epoch token
//	wartctl update [-merge mov|add|del] token key=value...
//	wartctl close token
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/bytedance/sonic"

	"github.com/seantiz/wart/internal/frame"
	"github.com/seantiz/wart/internal/rpc"
	"github.com/seantiz/wart/internal/rpc/wartpb"
	"github.com/seantiz/wart/internal/session"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:6066", "worker gRPC address")
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := rpc.Dial(*addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	if err := dispatch(ctx, client, os.Stdout, flag.Arg(0), flag.Args()[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: wartctl [-addr host:port] open|run|epoch|update|close ...\n")
	flag.PrintDefaults()
}

func dispatch(ctx context.Context, c *rpc.Client, out io.Writer, cmd string, args []string) error {
	switch cmd {
	case "open":
		return openCmd(ctx, c, out, args)
	case "run":
		return runCmd(ctx, c, out, args)
	case "epoch":
		return epochCmd(ctx, c, out, args)
	case "update":
		return updateCmd(ctx, c, out, args)
	case "close":
		return closeCmd(ctx, c, args)
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func openCmd(ctx context.Context, c *rpc.Client, out io.Writer, args []string) error {
	fs := flag.NewFlagSet("open", flag.ContinueOnError)
	namespace := fs.String("namespace", "", "graph namespace, scheme:space")
	parallelism := fs.Uint("parallelism", 1, "concurrent runs per stream")
	ioTimeout := fs.Uint64("io-timeout", 5000, "host I/O timeout in milliseconds")
	execTimeout := fs.Uint64("exec-timeout", 0, "per-run execution timeout in milliseconds (0 = none)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("open: expected one module path")
	}

	program, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("read module: %w", err)
	}
	resp, err := c.OpenSession(ctx, &wartpb.OpenSessionRequest{
		Program:          program,
		Namespace:        *namespace,
		IOTimeout:        *ioTimeout,
		ExecutionTimeout: *execTimeout,
		Parallelism:      uint32(*parallelism),
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(out, resp.Token)
	return nil
}

func runCmd(ctx context.Context, c *rpc.Client, out io.Writer, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	count := fs.Int("n", 1, "number of runs")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return errors.New("run: expected a session token")
	}

	guestArgs := fs.Args()[1:]
	requests := make([][]string, *count)
	for i := range requests {
		requests[i] = guestArgs
	}
	resps, err := c.Run(ctx, fs.Arg(0), requests)
	for _, r := range resps {
		line, merr := sonic.MarshalString(r)
		if merr != nil {
			return merr
		}
		fmt.Fprintln(out, line)
	}
	return err
}

func epochCmd(ctx context.Context, c *rpc.Client, out io.Writer, args []string) error {
	if len(args) != 1 {
		return errors.New("epoch: expected a session token")
	}
	resp, err := c.IncrementEpoch(ctx, &wartpb.IncrementEpochRequest{Token: args[0]})
	if err != nil {
		return err
	}
	fmt.Fprintln(out, resp.Epoch)
	return nil
}

func closeCmd(ctx context.Context, c *rpc.Client, args []string) error {
	if len(args) != 1 {
		return errors.New("close: expected a session token")
	}
	_, err := c.CloseSession(ctx, &wartpb.CloseSessionRequest{Token: args[0]})
	return err
}

func updateCmd(ctx context.Context, c *rpc.Client, out io.Writer, args []string) error {
	fs := flag.NewFlagSet("update", flag.ContinueOnError)
	mergeName := fs.String("merge", "mov", "merge mode: mov, add or del")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 2 {
		return errors.New("update: expected a token and at least one key")
	}
	merge, err := session.ParseMerge(*mergeName)
	if err != nil {
		return err
	}

	keys, vals, err := parsePairs(fs.Args()[1:], merge == session.MergeDel)
	if err != nil {
		return err
	}
	stream, err := c.UpdateStore(ctx)
	if err != nil {
		return err
	}
	err = stream.Send(&wartpb.UpdateStoreRequest{
		Token:     fs.Arg(0),
		Keys:      keys,
		Vals:      vals,
		MergeType: int32(merge),
	})
	if err != nil {
		return err
	}
	resp, err := stream.Recv()
	if err != nil {
		return err
	}
	_ = stream.CloseSend()
	fmt.Fprintln(out, resp.OkCount)
	return nil
}

// parsePairs splits key=value arguments. Values become one int64, float64 or
// string vector, the narrowest kind every value fits.
func parsePairs(pairs []string, keysOnly bool) ([]string, frame.Series, error) {
	keys := make([]string, len(pairs))
	raw := make([]string, len(pairs))
	for i, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok && !keysOnly {
			return nil, frame.Series{}, fmt.Errorf("expected key=value, got %q", p)
		}
		keys[i], raw[i] = k, v
	}
	if keysOnly {
		return keys, frame.Series{}, nil
	}

	ints := make([]int64, len(raw))
	floats := make([]float64, len(raw))
	isInt, isFloat := true, true
	for i, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		isInt = isInt && err == nil
		ints[i] = n
		f, err := strconv.ParseFloat(v, 64)
		isFloat = isFloat && err == nil
		floats[i] = f
	}
	switch {
	case isInt:
		return keys, frame.SeriesOf(frame.Vector{Kind: frame.KindInt64, I64s: ints}), nil
	case isFloat:
		return keys, frame.SeriesOf(frame.Vector{Kind: frame.KindFloat64, F64s: floats}), nil
	}
	return keys, frame.SeriesOf(frame.Vector{Kind: frame.KindString, Strs: raw}), nil
}
