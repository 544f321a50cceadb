package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nerrad567/dispenser-core/internal/devicecfg"
)

// Config returns the device configuration command group.
func Config(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read and write a device's configuration",
	}

	cmd.AddCommand(configGet(opts))
	cmd.AddCommand(configSet(opts))
	cmd.AddCommand(configWiFi(opts))

	return cmd
}

func configGet(opts *globalOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "get <device-id>",
		Short: "Show a device's configuration with defaults filled in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			cfg, err := a.Configs.GetDeviceConfig(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), output, cfg)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "yaml", "Output format (yaml or json)")

	return cmd
}

func configSet(opts *globalOptions) *cobra.Command {
	var (
		alarmMode string
		intensity int
		color     string
	)

	cmd := &cobra.Command{
		Use:   "set <device-id>",
		Short: "Update alarm mode, LED intensity or LED colour",
		Long: `Update a device's behaviour settings. Only the flags given are changed.

Values are on the device scale: alarm mode is off, sound, led or both and
LED intensity is 0-1023.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var u devicecfg.Update
			flags := cmd.Flags()
			if flags.Changed("alarm-mode") {
				mode := devicecfg.AlarmMode(alarmMode)
				u.AlarmMode = &mode
			}
			if flags.Changed("led-intensity") {
				u.LEDIntensity = &intensity
			}
			if flags.Changed("led-color") {
				rgb, err := devicecfg.ParseHex(color)
				if err != nil {
					return err
				}
				u.LEDColor = &rgb
			}
			if u.Empty() {
				return errors.New("nothing to update: pass --alarm-mode, --led-intensity or --led-color")
			}

			a, err := opts.open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Configs.SaveDeviceConfig(cmd.Context(), args[0], u)
			if err != nil {
				return errors.New(userMessage(err))
			}
			printSave(cmd.OutOrStdout(), res)
			return nil
		},
	}

	cmd.Flags().StringVar(&alarmMode, "alarm-mode", "", "Alarm mode (off, sound, led, both)")
	cmd.Flags().IntVar(&intensity, "led-intensity", 0, "LED intensity (0-1023)")
	cmd.Flags().StringVar(&color, "led-color", "", "LED colour as #rrggbb")

	return cmd
}

func configWiFi(opts *globalOptions) *cobra.Command {
	var ssid, password string

	cmd := &cobra.Command{
		Use:   "wifi <device-id>",
		Short: "Send Wi-Fi credentials to a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Configs.SaveWiFiConfig(cmd.Context(), args[0], ssid, password)
			if err != nil {
				return errors.New(userMessage(err))
			}
			printSave(cmd.OutOrStdout(), res)
			return nil
		},
	}

	cmd.Flags().StringVar(&ssid, "ssid", "", "Network name")
	cmd.Flags().StringVar(&password, "password", "", "Network password (empty for open networks)")
	_ = cmd.MarkFlagRequired("ssid")

	return cmd
}

// printSave reports a save outcome, including any partial-save warnings.
func printSave(out io.Writer, res devicecfg.SaveResult) {
	fmt.Fprintf(out, "%s saved %s (sync: %s)\n", okStyle.Render("✓"), res.DeviceID, res.SyncStatus)
	for _, w := range res.Warnings {
		fmt.Fprintf(out, "%s %s\n", warningStyle.Render("!"), w.Message)
	}
	if res.ConnectivityConfirmed {
		fmt.Fprintln(out, okStyle.Render("  device joined the network"))
	}
}

// render writes v as yaml or json. yaml keys follow the json field names.
func render(out io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return err
		}
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(doc)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
