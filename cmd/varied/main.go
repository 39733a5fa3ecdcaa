// Command varied is the daemon binary: it owns the PTY fleet, the
// control socket, and (optionally) the cloud relay connection. The
// default start path re-execs itself detached with --foreground,
// writing a pidfile and a rotating log.
package main

import (
	"compress/gzip"
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/varie-ai/workstation/internal/applog"
	"github.com/varie-ai/workstation/internal/daemon"
)

const appName = "varie"

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "varied",
		Short: "varie workstation orchestration daemon",
	}

	root.AddCommand(startCmd(), stopCmd(), statusCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func appDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "."+appName)
}

func pidPath() string  { return filepath.Join(appDir(), "daemon.pid") }
func logPath() string  { return filepath.Join(appDir(), "daemon.log") }
func argsPath() string { return filepath.Join(appDir(), "daemon.args") }

func readPid() (int, error) {
	data, err := os.ReadFile(pidPath())
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, err
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0, err
	}
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		os.Remove(pidPath())
		return 0, fmt.Errorf("stale pid")
	}
	return pid, nil
}

const maxLogSize = 1 << 20 // 1MB

// rotateLog rotates path when it exceeds maxLogSize, chaining
// .log -> .log.1 -> .log.2.gz -> deleted.
func rotateLog(path string) {
	info, err := os.Stat(path)
	if err != nil || info.Size() < maxLogSize {
		return
	}
	os.Remove(path + ".2.gz")
	if data, err := os.ReadFile(path + ".1"); err == nil {
		if gz, err := os.Create(path + ".2.gz"); err == nil {
			w := gzip.NewWriter(gz)
			w.Write(data)
			w.Close()
			gz.Close()
			os.Remove(path + ".1")
		}
	}
	os.Rename(path, path+".1")
}

func startCmd() *cobra.Command {
	var dev, foreground bool
	var verbose int
	var assistantBin, relayURL string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the daemon and go online",
		RunE: func(cmd *cobra.Command, args []string) error {
			if foreground {
				return runForeground(dev, verbose, assistantBin, relayURL)
			}

			if pid, err := readPid(); err == nil {
				return fmt.Errorf("daemon already running (pid %d)", pid)
			}

			exe, err := os.Executable()
			if err != nil {
				return err
			}
			childArgs := []string{"start", "--foreground"}
			if dev {
				childArgs = append(childArgs, "--dev")
			}
			if verbose > 0 {
				childArgs = append(childArgs, "-"+strings.Repeat("v", verbose))
			}
			if assistantBin != "" {
				childArgs = append(childArgs, "--assistant", assistantBin)
			}
			if relayURL != "" {
				childArgs = append(childArgs, "--relay-url", relayURL)
			}

			os.MkdirAll(appDir(), 0o755)
			rotateLog(logPath())
			logFile, err := os.OpenFile(logPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return fmt.Errorf("open log: %w", err)
			}
			defer logFile.Close()

			home, _ := os.UserHomeDir()
			child := exec.Command(exe, childArgs...)
			child.Dir = home
			child.Stdout = logFile
			child.Stderr = logFile
			child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

			if err := child.Start(); err != nil {
				return fmt.Errorf("start daemon: %w", err)
			}
			os.WriteFile(pidPath(), []byte(strconv.Itoa(child.Process.Pid)), 0o644)
			os.WriteFile(argsPath(), []byte(strings.Join(childArgs, "\n")), 0o644)
			fmt.Printf("varied started (pid %d)\n  log: %s\n", child.Process.Pid, logPath())
			return nil
		},
	}

	cmd.Flags().BoolVar(&dev, "dev", false, "bind the -dev control socket")
	cmd.Flags().BoolVar(&foreground, "foreground", false, "run in foreground instead of daemonizing")
	cmd.Flags().CountVarP(&verbose, "verbose", "v", "increase log verbosity (-v debug)")
	cmd.Flags().StringVar(&assistantBin, "assistant", "claude", "assistant binary to launch in each session")
	cmd.Flags().StringVar(&relayURL, "relay-url", "", "override the cloud relay URL")
	return cmd
}

func runForeground(dev bool, verbose int, assistantBin, relayURL string) error {
	level := "info"
	if verbose > 0 {
		level = "debug"
	}
	if err := applog.Init(level, ""); err != nil {
		return err
	}

	d, err := daemon.New(daemon.Options{
		AppName:      appName,
		AssistantBin: assistantBin,
		Version:      version,
		Dev:          dev,
		RelayURL:     relayURL,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	applog.Info("varied starting", "version", version, "dev", dev)
	return d.Run(ctx)
}

func stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := readPid()
			if err != nil {
				return fmt.Errorf("no daemon running")
			}
			proc, _ := os.FindProcess(pid)
			if err := proc.Signal(syscall.SIGTERM); err != nil {
				return fmt.Errorf("kill pid %d: %w", pid, err)
			}
			os.Remove(pidPath())
			os.Remove(argsPath())
			fmt.Printf("varied stopped (pid %d)\n", pid)
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := readPid()
			if err != nil {
				fmt.Println("varied is not running")
				return nil
			}
			fmt.Printf("varied is running (pid %d)\n  log: %s\n", pid, logPath())
			return nil
		},
	}
}
