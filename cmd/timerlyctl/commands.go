package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/timerly-core/internal/command"
	"github.com/nerrad567/timerly-core/internal/coordinator"
	"github.com/nerrad567/timerly-core/internal/device"
	"github.com/nerrad567/timerly-core/internal/discovery"
	"github.com/nerrad567/timerly-core/internal/entity"
)

func newBrowseCmd(opts *options) *cobra.Command {
	var window time.Duration
	cmd := &cobra.Command{
		Use:   "browse",
		Short: "List displays advertising " + device.ServiceType,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			src := discovery.NewMDNSSource(discovery.MDNSOptions{
				Window: window,
				Logger: opts.logger(),
			})
			ctx, cancel := context.WithTimeout(cmd.Context(), window)
			defer cancel()
			return browse(ctx, src, cmd.OutOrStdout())
		},
	}
	cmd.Flags().DurationVarP(&window, "wait", "w", 5*time.Second, "How long to listen for announcements")
	return cmd
}

// browse runs src until ctx is done and prints each device once.
func browse(ctx context.Context, src discovery.Source, out io.Writer) error {
	seen := make(map[string]device.Device)
	err := src.Run(ctx, func(ev discovery.Event) {
		if ev.Type != discovery.EventAdded {
			return
		}
		dev := ev.Device()
		seen[dev.Name] = dev
	})
	if err != nil {
		return fmt.Errorf("browsing: %w", err)
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tUNIQUE ID\tENTITY ID")
	for _, name := range names {
		d := seen[name]
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.Name, d.HostPort(), d.UniqueID, d.EntityID())
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Fprintln(out, "no displays found")
	}
	return nil
}

func newStatusCmd(opts *options) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status <address[:port]>",
		Short: "Show a display's running timer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dev, err := opts.parseTarget(args[0])
			if err != nil {
				return err
			}
			fetcher := coordinator.NewFetcher(nil, opts.timeout)
			defer fetcher.CloseIdleConnections()

			data, err := fetcher.Fetch(cmd.Context(), dev)
			if err != nil {
				return fmt.Errorf("reading %s: %w", dev, err)
			}
			return printStatus(cmd.OutOrStdout(), dev, data, time.Now(), asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw timer data as JSON")
	return cmd
}

func printStatus(out io.Writer, dev device.Device, data device.TimerData, now time.Time, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	}

	fmt.Fprintf(out, "device:    %s\n", dev)
	fmt.Fprintf(out, "available: %t\n", data.Available)
	end, ok := data.EndTime()
	if !ok {
		fmt.Fprintln(out, "timer:     idle")
	} else {
		state := "finished"
		if data.Running(now) {
			state = "running"
		}
		fmt.Fprintf(out, "timer:     %s\n", state)
		fmt.Fprintf(out, "ends:      %s\n", end.Local().Format(time.RFC3339))
		fmt.Fprintf(out, "remaining: %s\n", entity.FormatRemaining(data.Remaining(now)))
	}
	data.Properties.Range(func(key string, value any) bool {
		fmt.Fprintf(out, "  %s: %v\n", key, value)
		return true
	})
	return nil
}

// post sends one command to the target display.
func post(cmd *cobra.Command, opts *options, target, endpoint string, payload any) error {
	dev, err := opts.parseTarget(target)
	if err != nil {
		return err
	}
	client := command.NewClient(nil, opts.timeout, opts.logger())
	defer client.CloseIdleConnections()

	if err := client.Post(cmd.Context(), dev, endpoint, payload); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "sent %s to %s\n", endpoint, dev)
	return nil
}

func newStartCmd(opts *options) *cobra.Command {
	var (
		req     command.StartTimerRequest
		noVoice bool
	)
	cmd := &cobra.Command{
		Use:   "start <address[:port]>",
		Short: "Start a countdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if noVoice {
				voice := false
				req.Voice = &voice
			}
			payload, err := command.BuildStartTimer(req, time.Now(), entity.DefaultTimerType)
			if err != nil {
				return err
			}
			return post(cmd, opts, args[0], command.EndpointTimer, payload)
		},
	}
	cmd.Flags().IntVarP(&req.Seconds, "seconds", "s", 0, "Countdown length in seconds")
	cmd.Flags().IntVarP(&req.Minutes, "minutes", "m", 0, "Countdown length in minutes (wins over --seconds and --end-time)")
	cmd.Flags().StringVarP(&req.EndTime, "end-time", "e", "", "Local end time today, HH:MM:SS")
	cmd.Flags().StringVar(&req.Position, "position", "", "Overlay position (default "+command.DefaultPosition+")")
	cmd.Flags().StringVar(&req.Type, "type", "", "Timer type, one of "+strings.Join(entity.TimerTypeOptions, ", "))
	cmd.Flags().BoolVar(&noVoice, "no-voice", false, "Disable the voice announcement")
	return cmd
}

func newCancelCmd(opts *options) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "cancel <address[:port]>",
		Short: "Cancel every timer, or one named timer with --timer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return post(cmd, opts, args[0], command.EndpointCancel, command.CancelPayload{})
			}
			payload, err := command.BuildDismiss(command.DismissRequest{Name: name})
			if err != nil {
				return err
			}
			return post(cmd, opts, args[0], command.EndpointCancel, payload)
		},
	}
	cmd.Flags().StringVar(&name, "timer", "", "Dismiss only the timer with this name")
	return cmd
}

func newDoorbellCmd(opts *options) *cobra.Command {
	var (
		duration int
		video    string
	)
	cmd := &cobra.Command{
		Use:   "doorbell <address[:port]>",
		Short: "Show the doorbell overlay",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := command.DoorbellRequest{Video: video}
			if cmd.Flags().Changed("duration") {
				req.Duration = &duration
			}
			payload, err := command.BuildDoorbell(req)
			if err != nil {
				return err
			}
			return post(cmd, opts, args[0], command.EndpointDoorbell, payload)
		},
	}
	cmd.Flags().IntVar(&duration, "duration", command.DefaultDoorbellDuration, "Seconds to show the overlay")
	cmd.Flags().StringVar(&video, "video", "", "Camera stream URL")
	return cmd
}

func newAlertCmd(opts *options) *cobra.Command {
	var (
		req  command.NotifyRequest
		data []string
	)
	cmd := &cobra.Command{
		Use:   "alert <address[:port]>",
		Short: "Show an alert",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseData(data)
			if err != nil {
				return err
			}
			req.Data = parsed
			payload, err := command.BuildAlert(req)
			if err != nil {
				return err
			}
			return post(cmd, opts, args[0], command.EndpointAlert, payload)
		},
	}
	cmd.Flags().StringVar(&req.Title, "title", "", "Alert title")
	cmd.Flags().StringVar(&req.Message, "text", "", "Alert text")
	cmd.Flags().StringArrayVar(&data, "data", nil, "Extra alert field as key=value (repeatable)")
	return cmd
}

// parseData turns key=value pairs into alert data. Values that parse as
// bool or int keep that type.
func parseData(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --data %q, want key=value", p)
		}
		if b, err := strconv.ParseBool(value); err == nil {
			out[key] = b
		} else if n, err := strconv.Atoi(value); err == nil {
			out[key] = n
		} else {
			out[key] = value
		}
	}
	return out, nil
}
