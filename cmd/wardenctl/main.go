// wardenctl is a thin client for the warden daemon API.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"warden/internal/version"
)

var baseURL string

var rootCmd = &cobra.Command{
	Use:           "wardenctl",
	Short:         "Control a running warden daemon",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&baseURL, "addr", "http://127.0.0.1:8080", "warden daemon base URL")
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

var (
	installForce bool
	installWatch bool
	consoleLimit int
	tailLimit    int
	settingsSet  []string
)

func init() {
	installCmd.Flags().BoolVar(&installForce, "force", false, "reinstall even if the version is already installed")
	installCmd.Flags().BoolVar(&installWatch, "watch", false, "poll install progress until it settles")
	consoleCmd.Flags().IntVar(&consoleLimit, "limit", 100, "number of lines to fetch (0 for everything retained)")
	tailCmd.Flags().IntVar(&tailLimit, "limit", 20, "lines of backlog to replay before the live tail")
	settingsCmd.Flags().StringArrayVar(&settingsSet, "set", nil, "key=value to change (repeatable, value parsed as JSON when possible)")
	jobsCmd.AddCommand(jobsRemoveCmd)
	rootCmd.AddCommand(statusCmd, installCmd, progressCmd, startCmd, stopCmd, restartCmd,
		versionsCmd, refreshCmd, consoleCmd, tailCmd, sendCmd, settingsCmd, jobsCmd,
		metricsCmd, versionCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return printGET("/v1/server/status")
	},
}

var installCmd = &cobra.Command{
	Use:   "install <version|stable|unstable>",
	Short: "Install a server version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var prog map[string]any
		err := postJSON("/v1/server/install", map[string]any{
			"version": args[0],
			"force":   installForce,
		}, &prog)
		if err != nil {
			return err
		}
		if !installWatch {
			return printDoc(prog)
		}
		return watchProgress()
	},
}

var progressCmd = &cobra.Command{
	Use:   "progress",
	Short: "Show install progress",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return printGET("/v1/server/install/progress")
	},
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the installed server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return printPOST("/v1/server/start")
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return printPOST("/v1/server/stop")
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return printPOST("/v1/server/restart")
	},
}

var versionsCmd = &cobra.Command{
	Use:   "versions",
	Short: "Show cached release data",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return printGET("/v1/versions")
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Refresh release data from the vendor now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return printPOST("/v1/versions/refresh")
	},
}

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Print recent console output",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var doc struct {
			Lines []consoleLine `json:"lines"`
		}
		if err := getJSON(fmt.Sprintf("/v1/console?limit=%d", consoleLimit), &doc); err != nil {
			return err
		}
		for _, l := range doc.Lines {
			printLine(l)
		}
		return nil
	},
}

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Stream console output live",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		u := "ws" + strings.TrimPrefix(baseURL, "http") + "/v1/console/stream"
		if tailLimit > 0 {
			u += "?limit=" + strconv.Itoa(tailLimit)
		}
		conn, _, err := websocket.DefaultDialer.Dial(u, nil)
		if err != nil {
			return err
		}
		defer conn.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		go func() {
			<-ctx.Done()
			_ = conn.Close()
		}()

		for {
			var l consoleLine
			if err := conn.ReadJSON(&l); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			printLine(l)
		}
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <command...>",
	Short: "Send a command to the server's stdin",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		err := postJSON("/v1/console/command", map[string]string{
			"command": strings.Join(args, " "),
		}, nil)
		if err != nil {
			return err
		}
		fmt.Println("ok")
		return nil
	},
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change game settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(settingsSet) == 0 {
			return printGET("/v1/settings")
		}
		var doc map[string]any
		if err := getJSON("/v1/settings", &doc); err != nil {
			return err
		}
		for _, kv := range settingsSet {
			key, raw, ok := strings.Cut(kv, "=")
			if !ok {
				return fmt.Errorf("--set %q: want key=value", kv)
			}
			doc[key] = parseValue(raw)
		}
		var out map[string]any
		if err := putJSON("/v1/settings", doc, &out); err != nil {
			return err
		}
		return printDoc(out)
	},
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List scheduled jobs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return printGET("/v1/jobs")
	},
}

var jobsRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Unschedule a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := doJSON(http.MethodDelete, "/v1/jobs/"+args[0], nil, nil); err != nil {
			return err
		}
		fmt.Println("ok")
		return nil
	},
}

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Show resource usage history",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return printGET("/v1/metrics/history")
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print client version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("wardenctl %s (%s)\n", version.Version, version.Commit)
	},
}

type consoleLine struct {
	Time time.Time `json:"time"`
	Text string    `json:"text"`
}

func printLine(l consoleLine) {
	fmt.Printf("%s  %s\n", l.Time.Format("15:04:05"), l.Text)
}

// watchProgress polls until the install settles, drawing one line per poll.
func watchProgress() error {
	for {
		var prog struct {
			State   string `json:"state"`
			Stage   string `json:"stage"`
			Percent int    `json:"percent"`
			Error   string `json:"error"`
		}
		if err := getJSON("/v1/server/install/progress", &prog); err != nil {
			return err
		}
		fmt.Printf("\r%-12s %-12s %3d%%", prog.State, prog.Stage, prog.Percent)
		if prog.State != "installing" {
			fmt.Println()
			if prog.Error != "" {
				return fmt.Errorf("install failed: %s", prog.Error)
			}
			return nil
		}
		time.Sleep(500 * time.Millisecond)
	}
}

// parseValue interprets raw as JSON when it parses (numbers, booleans, null,
// quoted strings) and as a plain string otherwise.
func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

func printGET(path string) error {
	var doc any
	if err := getJSON(path, &doc); err != nil {
		return err
	}
	return printDoc(doc)
}

func printPOST(path string) error {
	var doc any
	if err := postJSON(path, nil, &doc); err != nil {
		return err
	}
	return printDoc(doc)
}

func printDoc(doc any) error {
	if doc == nil {
		fmt.Println("ok")
		return nil
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	os.Stdout.Write(b)
	fmt.Println()
	return nil
}

func getJSON(path string, out any) error {
	return doJSON(http.MethodGet, path, nil, out)
}

func postJSON(path string, body, out any) error {
	return doJSON(http.MethodPost, path, body, out)
}

func putJSON(path string, body, out any) error {
	return doJSON(http.MethodPut, path, body, out)
}

func doJSON(method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return apiError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// apiError turns the daemon's JSON error envelope into a readable error.
func apiError(resp *http.Response) error {
	var e struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&e); err == nil && e.Error != "" {
		return fmt.Errorf("%s (%s)", e.Error, e.Code)
	}
	return fmt.Errorf("daemon returned %s", resp.Status)
}
