package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/joshp123/thermohub/internal/config"
	"github.com/joshp123/thermohub/internal/rpc"
)

func main() {
	global := flag.NewFlagSet("thermohub-cli", flag.ExitOnError)
	jsonOutput := global.Bool("json", false, "Output JSON")
	addrFlag := global.String("addr", "", "gRPC address (default from THERMOHUB_GRPC_ADDR or config)")
	timeout := global.Duration("timeout", 30*time.Second, "Request timeout")
	global.Usage = usage
	_ = global.Parse(os.Args[1:])

	args := global.Args()
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}

	addr := *addrFlag
	if addr == "" {
		addr = resolveAddr()
	}
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		fatal("dial", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client := rpc.NewClient(conn)
	out := outputMode{json: *jsonOutput}
	switch args[0] {
	case "list":
		listCmd(ctx, client, out)
	case "set":
		setCmd(ctx, client, args[1:], out)
	case "refresh":
		refreshCmd(ctx, client, args[1:], out)
	case "add-tcc":
		addTCCCmd(ctx, client, args[1:], out)
	case "add-lyric":
		addLyricCmd(ctx, client, args[1:], out)
	case "remove":
		removeCmd(ctx, client, args[1:], out)
	default:
		usage()
		os.Exit(2)
	}
}

func resolveAddr() string {
	if value := os.Getenv("THERMOHUB_GRPC_ADDR"); value != "" {
		return value
	}
	for _, path := range configSearchPaths() {
		if addr := addrFromConfig(path); addr != "" {
			return addr
		}
	}
	return "localhost:9000"
}

func configSearchPaths() []string {
	paths := []string{config.DefaultPath}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		paths = append(paths, filepath.Join(home, ".config", "thermohub", "config.yaml"))
	}
	return paths
}

func addrFromConfig(path string) string {
	cfg, err := config.Load(path)
	if err != nil || cfg == nil {
		return ""
	}
	return dialAddr(cfg.Core.GRPCAddr)
}

func usage() {
	fmt.Println("thermohub-cli [--json] [--addr host:port] <command> [args]")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  list")
	fmt.Println("  set <device> [--mode off|heat|cool|auto] [--heat <temp>] [--cool <temp>]")
	fmt.Println("  refresh <device>")
	fmt.Println("  add-tcc --username <email> --password-file <path>")
	fmt.Println("  add-lyric --api-key <key> --api-secret-file <path> --refresh-token-file <path> [--label <label>]")
	fmt.Println("  remove <account_id>")
	fmt.Println("")
	fmt.Println("<device> is vendor/location/device or a thermostat name.")
}

func fatal(action string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", action, err)
	os.Exit(1)
}

// dialAddr turns a listen address into one a client can dial.
func dialAddr(listen string) string {
	if listen == "" {
		return ""
	}
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return listen
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}
