package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ForgeVTT/many-level/guest"
	"github.com/ForgeVTT/many-level/store"
)

func replCommand(log zerolog.Logger) *cobra.Command {
	var (
		addr  string
		retry bool
	)

	cmd := &cobra.Command{
		Use:   "repl",
		Short: "interactive guest against a remote host",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := net.Dial("tcp", addr)
			if err != nil {
				return err
			}

			var opts []guest.Option
			opts = append(opts, guest.WithLogger(log))
			if retry {
				opts = append(opts, guest.WithRetry())
			}
			g := guest.New(opts...)
			if err := g.AttachRPC(conn); err != nil {
				return err
			}
			defer g.Close()

			repl(cmd.Context(), g)
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:7393", "host address")
	cmd.Flags().BoolVar(&retry, "retry", false, "preserve pending work across disconnects")
	return cmd
}

func repl(ctx context.Context, g *guest.Guest) {
	fmt.Println("manylevel repl")
	fmt.Println("commands: put <key> <value> | get <key> | del <key> | getmany <key>... | iter [gte] [lt] | clear [gte] [lt] | exit")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		switch strings.ToLower(parts[0]) {
		case "put":
			if len(parts) != 3 {
				fmt.Println("usage: put <key> <value>")
				continue
			}
			if err := g.Put(ctx, []byte(parts[1]), []byte(parts[2])); err != nil {
				fmt.Printf("put error: %v\n", err)
				continue
			}
			fmt.Println("ok")
		case "get":
			if len(parts) != 2 {
				fmt.Println("usage: get <key>")
				continue
			}
			value, err := g.Get(ctx, []byte(parts[1]))
			if err != nil {
				fmt.Printf("get error: %v\n", err)
				continue
			}
			fmt.Printf("%s\n", value)
		case "del":
			if len(parts) != 2 {
				fmt.Println("usage: del <key>")
				continue
			}
			if err := g.Delete(ctx, []byte(parts[1])); err != nil {
				fmt.Printf("del error: %v\n", err)
				continue
			}
			fmt.Println("ok")
		case "getmany":
			if len(parts) < 2 {
				fmt.Println("usage: getmany <key>...")
				continue
			}
			keys := make([][]byte, 0, len(parts)-1)
			for _, k := range parts[1:] {
				keys = append(keys, []byte(k))
			}
			values, err := g.GetMany(ctx, keys)
			if err != nil {
				fmt.Printf("getmany error: %v\n", err)
				continue
			}
			for i, v := range values {
				if v == nil {
					fmt.Printf("%s: <absent>\n", parts[1+i])
				} else {
					fmt.Printf("%s: %s\n", parts[1+i], v)
				}
			}
		case "iter":
			r := parseRange(parts[1:])
			it := g.Iterator(store.IterOptions{Range: r, Keys: true, Values: true})
			count := 0
			for {
				entry, err := it.Next(ctx)
				if err != nil {
					fmt.Printf("iter error: %v\n", err)
					break
				}
				if entry == nil {
					break
				}
				fmt.Printf("%s = %s\n", entry.Key, entry.Value)
				count++
			}
			it.Close()
			fmt.Printf("(%d entries)\n", count)
		case "clear":
			if err := g.Clear(ctx, parseRange(parts[1:])); err != nil {
				fmt.Printf("clear error: %v\n", err)
				continue
			}
			fmt.Println("ok")
		case "exit", "quit":
			return
		default:
			fmt.Println("unknown command")
		}
	}
}

func parseRange(args []string) store.Range {
	var r store.Range
	if len(args) > 0 {
		r.Gte = []byte(args[0])
	}
	if len(args) > 1 {
		r.Lt = []byte(args[1])
	}
	return r
}
