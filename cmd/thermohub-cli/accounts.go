package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/joshp123/thermohub/internal/config"
	"github.com/joshp123/thermohub/internal/rpc"
)

func addTCCCmd(ctx context.Context, client *rpc.Client, args []string, out outputMode) {
	flags := flag.NewFlagSet("add-tcc", flag.ExitOnError)
	username := flags.String("username", "", "Total Connect Comfort login")
	passwordFile := flags.String("password-file", "", "File holding the password")
	_ = flags.Parse(args)
	if *username == "" || *passwordFile == "" {
		fatal("add-tcc", fmt.Errorf("--username and --password-file are required"))
	}
	password, err := config.ReadSecretFile(*passwordFile)
	if err != nil {
		fatal("add-tcc", err)
	}
	addAccount(ctx, client, rpc.AddAccountRequest{Vendor: "tcc", Username: *username, Password: password}, out)
}

func addLyricCmd(ctx context.Context, client *rpc.Client, args []string, out outputMode) {
	flags := flag.NewFlagSet("add-lyric", flag.ExitOnError)
	apiKey := flags.String("api-key", "", "Honeywell Home consumer key")
	secretFile := flags.String("api-secret-file", "", "File holding the consumer secret")
	tokenFile := flags.String("refresh-token-file", "", "File holding a refresh token")
	label := flags.String("label", "", "Distinguishes accounts sharing one key")
	_ = flags.Parse(args)
	if *apiKey == "" || *secretFile == "" || *tokenFile == "" {
		fatal("add-lyric", fmt.Errorf("--api-key, --api-secret-file and --refresh-token-file are required"))
	}
	secret, err := config.ReadSecretFile(*secretFile)
	if err != nil {
		fatal("add-lyric", err)
	}
	token, err := config.ReadSecretFile(*tokenFile)
	if err != nil {
		fatal("add-lyric", err)
	}
	addAccount(ctx, client, rpc.AddAccountRequest{
		Vendor:       "lyric",
		APIKey:       *apiKey,
		APISecret:    secret,
		RefreshToken: token,
		Label:        *label,
	}, out)
}

func addAccount(ctx context.Context, client *rpc.Client, req rpc.AddAccountRequest, out outputMode) {
	resp, err := client.AddAccount(ctx, req)
	if err != nil {
		fatal("add account", err)
	}
	if out.json {
		out.printJSON(resp)
		return
	}
	fmt.Printf("added %s (%d thermostats)\n", resp.AccountID, len(resp.Devices))
	for _, device := range resp.Devices {
		fmt.Printf("  - %s\n", device)
	}
}

func removeCmd(ctx context.Context, client *rpc.Client, args []string, out outputMode) {
	if len(args) < 1 {
		fatal("remove", fmt.Errorf("usage: thermohub-cli remove <account_id>"))
	}
	resp, err := client.RemoveAccount(ctx, args[0])
	if err != nil {
		fatal("remove account", err)
	}
	if out.json {
		out.printJSON(resp)
		return
	}
	fmt.Printf("%s: %s\n", resp.Status, resp.AccountID)
}
