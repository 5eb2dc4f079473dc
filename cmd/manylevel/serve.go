package main

import (
	"net"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ForgeVTT/many-level/badgerstore"
	"github.com/ForgeVTT/many-level/host"
	"github.com/ForgeVTT/many-level/memstore"
	"github.com/ForgeVTT/many-level/store"
	"github.com/ForgeVTT/many-level/transport/wsstream"
)

func serveCommand(log zerolog.Logger) *cobra.Command {
	var (
		addr      string
		wsAddr    string
		path      string
		batchSize int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "host a store over TCP and/or WebSocket",
		RunE: func(cmd *cobra.Command, args []string) error {
			var db store.Store
			if path != "" {
				bs, err := badgerstore.Open(path)
				if err != nil {
					return err
				}
				db = bs
				log.Info().Str("path", path).Msg("using badger store")
			} else {
				db = memstore.New()
				log.Info().Msg("using in-memory store")
			}
			defer db.Close()

			h := host.NewHost(db, host.WithBatchSize(batchSize), host.WithLogger(log))

			var g errgroup.Group
			if addr != "" {
				ln, err := net.Listen("tcp", addr)
				if err != nil {
					return err
				}
				log.Info().Str("addr", ln.Addr().String()).Msg("listening")
				g.Go(func() error { return serveTCP(ln, h, log) })
			}
			if wsAddr != "" {
				log.Info().Str("addr", wsAddr).Msg("listening for websockets")
				g.Go(func() error { return serveWS(wsAddr, h, log) })
			}
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:7393", "TCP listen address (empty to disable)")
	cmd.Flags().StringVar(&wsAddr, "ws-addr", "", "WebSocket listen address (empty to disable)")
	cmd.Flags().StringVar(&path, "badger", "", "badger database directory (empty for in-memory)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 64, "iterator entries per data frame")
	return cmd
}

func serveTCP(ln net.Listener, h *host.Host, log zerolog.Logger) error {
	var g errgroup.Group
	for {
		conn, err := ln.Accept()
		if err != nil {
			g.Wait()
			return err
		}
		log.Info().Str("peer", conn.RemoteAddr().String()).Msg("guest connected")
		g.Go(func() error {
			defer conn.Close()
			if err := h.Serve(conn); err != nil {
				log.Warn().Err(err).Msg("connection failed")
			}
			log.Info().Str("peer", conn.RemoteAddr().String()).Msg("guest disconnected")
			return nil
		})
	}
}

func serveWS(addr string, h *host.Host, log zerolog.Logger) error {
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Msg("upgrade failed")
			return
		}
		stream := wsstream.New(conn)
		defer stream.Close()
		if err := h.Serve(stream); err != nil {
			log.Warn().Err(err).Msg("connection failed")
		}
	})
	return http.ListenAndServe(addr, mux)
}
