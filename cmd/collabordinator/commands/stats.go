// Copyright © 2021 The Collabordinator Authors.
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/howeyc/gopass"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vitrivr/collabordinator/pkg/server"
)

var (
	statsUseTLS       bool
	statsPassword     string
	promptForPassword bool
)

// statsCmd represents the stats command
var statsCmd = &cobra.Command{
	Use:   "stats [host:port]",
	Short: "Print stats from a coordination endpoint",
	Long: `stats queries a coordination endpoint for running stats.

If the address is omitted, the local endpoint from the configuration is queried.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := viper.GetString("server.bind")
		if len(args) > 0 {
			addr = args[0]
		} else {
			// Use the options from the local endpoint's configuration.
			statsPassword = viper.GetString("server.statsPassword")
			statsUseTLS = viper.GetBool("tls.useTls")
		}
		return getStats(addr)
	},
}

func init() {
	RootCmd.AddCommand(statsCmd)
	statsCmd.Flags().BoolVarP(&statsUseTLS, "use-tls", "s", false, "query the endpoint over https")
	statsCmd.Flags().BoolVarP(&promptForPassword, "prompt-for-password", "p", false, "prompt for the endpoint's stats password\n    If unset, the password is the same as the local endpoint's.")

	viper.SetDefault("server.statsPassword", "")
}

func getStats(addr string) error {
	if promptForPassword {
		fmt.Printf("Password: ")
		pass, err := gopass.GetPasswd()
		if err != nil {
			return err
		}
		statsPassword = string(pass)
	}

	if statsPassword == "" {
		statsPassword = os.Getenv("COLLABORDINATOR_STATS_PASSWORD")
	}

	if statsPassword == "" {
		return errors.New("A stats password is required")
	}

	scheme := "http"
	if statsUseTLS {
		scheme = "https"
	}
	req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("%s://%s/stats", scheme, addr), nil)
	if err != nil {
		return errors.Wrap(err, "Build stats request")
	}
	req.Header.Set("Authorization", "Bearer "+statsPassword)

	httpClient := &http.Client{Timeout: 10 * time.Second}
	resp, err := httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "Query coordination endpoint")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("Endpoint returned %s", resp.Status)
	}

	var stats server.Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return errors.Wrap(err, "Decode stats response")
	}

	fmt.Printf(`Stats for %s:
Uptime: %s
Number of namespaces: %d
Max namespaces: %d on %s

Number of clients: %d
Max clients: %d on %s
`, addr, stats.Uptime,
		stats.NumNamespaces, stats.MaxNamespaces, stats.MaxNamespacesAt,
		stats.NumClients, stats.MaxClients, stats.MaxClientsAt)
	return nil
}
