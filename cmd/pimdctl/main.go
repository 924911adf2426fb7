// Command pimdctl talks to a running pimd over its control domain socket
// (spec §6.3), exposing each control-surface operation as a subcommand.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pim-sm/pimd/internal/control"
)

var sockFile string

func main() {
	root := &cobra.Command{
		Use:   "pimdctl",
		Short: "Control a running pimd daemon",
	}
	root.PersistentFlags().StringVar(&sockFile, "sock-file", "/var/run/pimd/pimd.sock", "path to the pimd control domain socket")

	root.AddCommand(
		newVifCmd(),
		newMembershipCmd(),
		newConfigCmd(),
		newBSRCmd(),
		newRPCmd(),
		newScopeZoneCmd(),
		newStatsCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func client() *http.Client {
	return &http.Client{
		Timeout: 5 * time.Second,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", sockFile)
			},
		},
	}
}

// call sends op/params to pimd and prints the response, returning an
// error if the daemon reported Status=ERROR.
func call(op control.Op, params map[string]any) error {
	req := control.Request{Op: op, Params: params}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	resp, err := client().Post("http://unix/control", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("dial %s: %w", sockFile, err)
	}
	defer resp.Body.Close()

	var out control.Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if out.Status != control.StatusOK {
		return fmt.Errorf("pimd: %s", out.Message)
	}
	if out.Result != nil {
		enc, _ := json.MarshalIndent(out.Result, "", "  ")
		fmt.Println(string(enc))
	} else {
		fmt.Println("OK")
	}
	return nil
}

func newVifCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "vif", Short: "Manage PIM-SM interfaces"}

	var index int
	var name string
	var p2p, loopback, mcast bool

	add := &cobra.Command{
		Use:   "add",
		Short: "Register a vif",
		RunE: func(*cobra.Command, []string) error {
			return call(control.OpAddVif, map[string]any{
				"name": name, "index": index,
				"flags": map[string]any{"IsMulticastCapable": mcast, "IsPointToPoint": p2p, "IsLoopback": loopback},
			})
		},
	}
	add.Flags().StringVar(&name, "name", "", "interface name")
	add.Flags().IntVar(&index, "index", 0, "vif index")
	add.Flags().BoolVar(&mcast, "multicast-capable", true, "interface supports multicast")
	add.Flags().BoolVar(&p2p, "point-to-point", false, "interface is point-to-point")
	add.Flags().BoolVar(&loopback, "loopback", false, "interface is loopback")

	simple := func(use, short string, op control.Op) *cobra.Command {
		var idx int
		c := &cobra.Command{
			Use:   use,
			Short: short,
			RunE: func(*cobra.Command, []string) error {
				return call(op, map[string]any{"index": idx})
			},
		}
		c.Flags().IntVar(&idx, "index", 0, "vif index")
		return c
	}

	cmd.AddCommand(add,
		simple("delete", "Remove a vif", control.OpDeleteVif),
		simple("enable", "Enable a vif", control.OpEnableVif),
		simple("disable", "Disable a vif", control.OpDisableVif),
		simple("start", "Start the PIM engine on a vif", control.OpStartVif),
		simple("stop", "Stop the PIM engine on a vif", control.OpStopVif),
		newVifAddrCmd("add-addr", control.OpAddVifAddr),
		newVifAddrCmd("delete-addr", control.OpDeleteVifAddr),
	)
	return cmd
}

func newVifAddrCmd(use string, op control.Op) *cobra.Command {
	var idx int
	var addr string
	var prefixLen int
	c := &cobra.Command{
		Use: use,
		RunE: func(*cobra.Command, []string) error {
			return call(op, map[string]any{"vif": idx, "addr": addr, "prefix_len": prefixLen})
		},
	}
	c.Flags().IntVar(&idx, "vif", 0, "vif index")
	c.Flags().StringVar(&addr, "addr", "", "interface address")
	c.Flags().IntVar(&prefixLen, "prefix-len", 24, "address prefix length")
	return c
}

func newMembershipCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "membership", Short: "Manage local group membership"}

	build := func(use string, op control.Op) *cobra.Command {
		var idx int
		var source, group string
		c := &cobra.Command{
			Use: use,
			RunE: func(*cobra.Command, []string) error {
				return call(op, map[string]any{"vif": idx, "source": source, "group": group})
			},
		}
		c.Flags().IntVar(&idx, "vif", 0, "vif index")
		c.Flags().StringVar(&source, "source", "", "source address, empty for (*,G)")
		c.Flags().StringVar(&group, "group", "", "multicast group address")
		return c
	}

	cmd.AddCommand(
		build("add", control.OpAddMembership),
		build("delete", control.OpDeleteMembership),
	)
	return cmd
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Get or reset the running configuration"}
	cmd.AddCommand(
		&cobra.Command{Use: "get", RunE: func(*cobra.Command, []string) error { return call(control.OpGetConfig, nil) }},
		&cobra.Command{Use: "reset", RunE: func(*cobra.Command, []string) error { return call(control.OpResetConfig, nil) }},
	)
	return cmd
}

func newBSRCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "bsr", Short: "Manage Candidate-BSR configuration"}

	var idx int
	var priority int
	var hashMaskLen int
	add := &cobra.Command{
		Use: "add",
		RunE: func(*cobra.Command, []string) error {
			return call(control.OpAddConfigCandBSR, map[string]any{"vif": idx, "priority": priority, "hash_mask_len": hashMaskLen})
		},
	}
	add.Flags().IntVar(&idx, "vif", 0, "candidate vif index")
	add.Flags().IntVar(&priority, "priority", 0, "Candidate-BSR priority")
	add.Flags().IntVar(&hashMaskLen, "hash-mask-len", 30, "RP-set hash mask length")

	var delIdx int
	del := &cobra.Command{
		Use: "delete",
		RunE: func(*cobra.Command, []string) error {
			return call(control.OpDeleteConfigCandBSR, map[string]any{"index": delIdx})
		},
	}
	del.Flags().IntVar(&delIdx, "vif", 0, "candidate vif index")

	cmd.AddCommand(add, del)
	return cmd
}

func newRPCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "rp", Short: "Manage Candidate-RP and static RP configuration"}

	var idx, priority, holdtime int
	var groups []string
	candAdd := &cobra.Command{
		Use: "add-candidate",
		RunE: func(*cobra.Command, []string) error {
			return call(control.OpAddConfigCandRP, map[string]any{
				"vif": idx, "priority": priority, "holdtime": holdtime, "group_prefixes": groups,
			})
		},
	}
	candAdd.Flags().IntVar(&idx, "vif", 0, "candidate vif index")
	candAdd.Flags().IntVar(&priority, "priority", 192, "Candidate-RP priority")
	candAdd.Flags().IntVar(&holdtime, "holdtime", 150, "Candidate-RP-Advertisement holdtime")
	candAdd.Flags().StringSliceVar(&groups, "groups", []string{"224.0.0.0/4"}, "group prefixes this RP serves")

	var delIdx int
	candDel := &cobra.Command{
		Use: "delete-candidate",
		RunE: func(*cobra.Command, []string) error {
			return call(control.OpDeleteConfigCandRP, map[string]any{"index": delIdx})
		},
	}
	candDel.Flags().IntVar(&delIdx, "vif", 0, "candidate vif index")

	var groupPrefix, rpAddr string
	var staticPriority int
	staticAdd := &cobra.Command{
		Use: "add-static",
		RunE: func(*cobra.Command, []string) error {
			return call(control.OpAddConfigStaticRP, map[string]any{
				"group_prefix": groupPrefix, "rp_address": rpAddr, "priority": staticPriority,
			})
		},
	}
	staticAdd.Flags().StringVar(&groupPrefix, "group-prefix", "224.0.0.0/4", "group prefix")
	staticAdd.Flags().StringVar(&rpAddr, "rp-address", "", "static RP address")
	staticAdd.Flags().IntVar(&staticPriority, "priority", 192, "static RP priority")

	staticDel := &cobra.Command{
		Use: "delete-static",
		RunE: func(*cobra.Command, []string) error {
			return call(control.OpDeleteConfigStaticRP, map[string]any{"group_prefix": groupPrefix, "rp_address": rpAddr})
		},
	}
	staticDel.Flags().StringVar(&groupPrefix, "group-prefix", "224.0.0.0/4", "group prefix")
	staticDel.Flags().StringVar(&rpAddr, "rp-address", "", "static RP address")

	cmd.AddCommand(candAdd, candDel, staticAdd, staticDel,
		&cobra.Command{Use: "static-done", RunE: func(*cobra.Command, []string) error { return call(control.OpConfigStaticRPDone, nil) }})
	return cmd
}

func newScopeZoneCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "scope-zone", Short: "Manage administratively scoped zone boundaries"}

	var prefix string
	add := &cobra.Command{
		Use: "add",
		RunE: func(*cobra.Command, []string) error {
			return call(control.OpAddConfigScopeZone, map[string]any{"prefix": prefix})
		},
	}
	add.Flags().StringVar(&prefix, "prefix", "", "scope zone group prefix")

	del := &cobra.Command{
		Use: "delete",
		RunE: func(*cobra.Command, []string) error {
			return call(control.OpDeleteConfigScopeZone, map[string]any{"prefix": prefix})
		},
	}
	del.Flags().StringVar(&prefix, "prefix", "", "scope zone group prefix")

	cmd.AddCommand(add, del)
	return cmd
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{Use: "stats", Short: "Print per-vif message counters", RunE: func(*cobra.Command, []string) error {
		return call(control.OpGetStats, nil)
	}}
}
