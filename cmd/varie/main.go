// Command varie is the local control-socket client: a thin wrapper
// that frames one JSON request, writes it to the daemon's stream
// socket, and prints the single response line.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

const appName = "varie"

// commandTimeouts gives slow commands a longer client deadline: route
// may spawn a session and wait for the assistant to come up before it
// answers.
var commandTimeouts = map[string]time.Duration{
	"route":    60 * time.Second,
	"dispatch": 10 * time.Second,
}

func defaultTimeout() time.Duration { return 5 * time.Second }

func socketPath(dev bool) string {
	home, _ := os.UserHomeDir()
	desc, err := readDescriptor(filepath.Join(home, "."+appName, "daemon.json"))
	if err == nil && desc.SocketPath != "" {
		return desc.SocketPath
	}
	name := appName + ".sock"
	if dev {
		name = appName + "-dev.sock"
	}
	return filepath.Join(os.TempDir(), name)
}

type descriptor struct {
	SocketPath string `json:"socketPath"`
	PID        int    `json:"pid"`
	StartedAt  string `json:"startedAt"`
	Version    string `json:"version"`
}

func readDescriptor(path string) (descriptor, error) {
	var d descriptor
	data, err := os.ReadFile(path)
	if err != nil {
		return d, err
	}
	return d, json.Unmarshal(data, &d)
}

// send frames one request object, writes it with a trailing newline,
// and returns the single decoded response line.
func send(sock string, frameType string, payload any) (map[string]any, error) {
	conn, err := net.DialTimeout("unix", sock, 3*time.Second)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon: %w (is `varied start` running?)", err)
	}
	defer conn.Close()

	req := map[string]any{"type": frameType}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		req["payload"] = json.RawMessage(data)
	}
	line, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	line = append(line, '\n')

	timeout := commandTimeouts[frameType]
	if timeout == 0 {
		timeout = defaultTimeout()
	}
	conn.SetDeadline(time.Now().Add(timeout))

	if _, err := conn.Write(line); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	resp, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(resp), &out); err != nil {
		return nil, fmt.Errorf("malformed daemon response: %w", err)
	}
	if status, _ := out["status"].(string); status == "error" {
		msg, _ := out["message"].(string)
		return out, fmt.Errorf("%s", msg)
	}
	return out, nil
}

func printJSON(v map[string]any) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}

func main() {
	var dev bool
	root := &cobra.Command{Use: "varie", Short: "control-socket client for the varie daemon"}
	root.PersistentFlags().BoolVar(&dev, "dev", false, "talk to the -dev daemon socket")

	root.AddCommand(listCmd(&dev), statusCmd(&dev), routeCmd(&dev), dispatchCmd(&dev), createWorkerCmd(&dev), discoverCmd(&dev))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func listCmd(dev *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List worker sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := send(socketPath(*dev), "list_workers", nil)
			if err != nil {
				return err
			}
			workers, _ := resp["workers"].([]any)
			if len(workers) == 0 {
				fmt.Println("no worker sessions")
				return nil
			}
			for _, w := range workers {
				wm, _ := w.(map[string]any)
				age := ""
				if ts, ok := wm["lastActivity"].(string); ok {
					if t, err := time.Parse(time.RFC3339, ts); err == nil {
						age = humanize.Time(t)
					}
				}
				fmt.Printf("%-36s %-24s %-10s %s\n", wm["id"], wm["repo"], wm["state"], age)
			}
			return nil
		},
	}
}

func statusCmd(dev *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, _ := os.UserHomeDir()
			desc, err := readDescriptor(filepath.Join(home, "."+appName, "daemon.json"))
			if err != nil {
				fmt.Println("varied is not running")
				return nil
			}
			started, err := time.Parse(time.RFC3339, desc.StartedAt)
			uptime := "unknown"
			if err == nil {
				uptime = humanize.RelTime(started, time.Now(), "", "")
			}
			fmt.Printf("varied is running (pid %d)\n  socket:  %s\n  version: %s\n  uptime:  %s\n", desc.PID, desc.SocketPath, desc.Version, uptime)
			return nil
		},
	}
}

func routeCmd(dev *bool) *cobra.Command {
	var taskID string
	var confirm bool
	cmd := &cobra.Command{
		Use:   "route <query> <message>",
		Short: "Fuzzy-route a message to a session, auto-creating one if needed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := send(socketPath(*dev), "route", map[string]any{
				"query": args[0], "message": args[1], "taskId": taskID, "confirmBeforeSend": confirm,
			})
			if err != nil {
				return err
			}
			printJSON(resp)
			return nil
		},
	}
	cmd.Flags().StringVar(&taskID, "task-id", "", "task id to match against")
	cmd.Flags().BoolVar(&confirm, "confirm", false, "don't auto-send a newline after the message")
	return cmd
}

func dispatchCmd(dev *bool) *cobra.Command {
	var confirm bool
	cmd := &cobra.Command{
		Use:   "dispatch <sessionId> <message>",
		Short: "Write a message to an explicitly named session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := send(socketPath(*dev), "dispatch", map[string]any{
				"targetSessionId": args[0], "message": args[1], "confirmBeforeSend": confirm,
			})
			if err != nil {
				return err
			}
			printJSON(resp)
			return nil
		},
	}
	cmd.Flags().BoolVar(&confirm, "confirm", false, "don't auto-send a newline after the message")
	return cmd
}

func createWorkerCmd(dev *bool) *cobra.Command {
	var taskID, flags string
	cmd := &cobra.Command{
		Use:   "create-worker <repo> <path>",
		Short: "Create a worker session for a repo",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := send(socketPath(*dev), "create_worker", map[string]any{
				"repo": args[0], "repoPath": args[1], "taskId": taskID, "claudeFlags": flags,
			})
			if err != nil {
				return err
			}
			printJSON(resp)
			return nil
		},
	}
	cmd.Flags().StringVar(&taskID, "task-id", "", "task id to associate with the new session")
	cmd.Flags().StringVar(&flags, "flags", "", "assistant startup flags, e.g. --dangerously-skip-permissions")
	return cmd
}

func discoverCmd(dev *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "discover [path]",
		Short: "Scan for repos and update the projects index",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			resp, err := send(socketPath(*dev), "discover_projects", map[string]any{"path": path})
			if err != nil {
				return err
			}
			printJSON(resp)
			return nil
		},
	}
}
