package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/chzchzchz/duocap/capture"
	"github.com/chzchzchz/duocap/config"
	"github.com/chzchzchz/duocap/http"
	"github.com/chzchzchz/duocap/logging"
	"github.com/chzchzchz/duocap/radio"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "duocap [flags] output",
	Short: "Capture raw I/Q from an RTL-SDR, optionally alternating between two frequencies.",
	Long: `Capture raw unsigned 8-bit I/Q samples to a file, or to stdout with "-".

Given two frequencies, the tuner alternates between them and the output holds
alternating blocks of exactly the requested number of samples per frequency.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return fmt.Errorf("%w: expected one output path, got %d", capture.ErrConfig, len(args))
		}
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          func(cmd *cobra.Command, args []string) error { return run(cmd, args[0]) },
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (toml, yaml or json)")
	config.AddFlags(rootCmd.Flags())
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", capture.ErrConfig, err)
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:          "devices",
		Short:        "List attached RTL-SDR devices",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE:         func(cmd *cobra.Command, args []string) error { return listDevices() },
	})
}

func run(cmd *cobra.Command, out string) error {
	cfg, err := config.Load(cmd.Flags(), configPath)
	if err != nil {
		return err
	}
	if err := logging.Configure(cfg.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", capture.ErrConfig, err)
	}
	cc, err := cfg.Capture()
	if err != nil {
		return err
	}
	plan, err := cc.Plan()
	if err != nil {
		return err
	}
	devCfg, err := cfg.Device()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGPIPE)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := capture.NewMetrics(reg)
	if err != nil {
		return err
	}

	dev, err := radio.Open(ctx, devCfg)
	if err != nil {
		return fmt.Errorf("%w: %v", capture.ErrDevice, err)
	}
	if err := radio.Setup(dev, devCfg); err != nil {
		dev.Close()
		return fmt.Errorf("%w: %v", capture.ErrDevice, err)
	}
	sink, err := capture.OpenSink(out)
	if err != nil {
		dev.Close()
		return err
	}

	sess := capture.NewSession(dev, sink, plan, capture.WithMetrics(metrics))
	if cfg.MetricsAddr != "" {
		sctx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := http.ServeHttp(sctx, sess, reg, cfg.MetricsAddr); err != nil {
				logging.Warn("status server failed", logging.Fields{
					logging.FieldAddr:  cfg.MetricsAddr,
					logging.FieldError: err,
				})
			}
		}()
	}
	for _, ch := range plan.Channels {
		logging.Info("channel", logging.Fields{
			logging.FieldChannel:    ch.ID,
			logging.FieldFrequency:  ch.FrequencyHz,
			logging.FieldBlockBytes: ch.BlockBytes,
		})
	}

	err = sess.Run(ctx)
	switch st := sess.Stats(); {
	case err != nil:
	case st.Reason == capture.ReasonCancelled:
		logging.Info("user cancel, exiting", logging.Fields{logging.FieldSession: sess.ID()})
	default:
		logging.Info("done", logging.Fields{logging.FieldSession: sess.ID()})
	}
	return err
}

func listDevices() error {
	devs, err := radio.List()
	if err != nil {
		return err
	}
	if len(devs) == 0 {
		return radio.ErrNoDevices
	}
	data := pterm.TableData{{"Index", "Name", "Manufacturer", "Product", "Serial"}}
	for _, d := range devs {
		data = append(data, []string{strconv.Itoa(d.Index), d.Name, d.Manufacturer, d.Product, d.Serial})
	}
	return pterm.DefaultTable.WithHasHeader().WithWriter(os.Stdout).WithData(data).Render()
}

// exitCode maps configuration errors to 2 and everything else to 1.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, capture.ErrConfig):
		return 2
	}
	return 1
}

func main() {
	err := rootCmd.Execute()
	if err != nil {
		logging.Error("duocap failed", logging.Fields{logging.FieldError: err})
	}
	os.Exit(exitCode(err))
}
