package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/correomqtt/correo-core/internal/infrastructure/config"
)

// rootOptions are the flags shared by every sub-command.
type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "correo",
		Short:         "MQTT client daemon with a control API",
		Long:          `correo keeps MQTT broker sessions, tracks their connection state and streams their messages to API clients.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"config file (default $"+config.EnvPrefix+"CONFIG or "+config.DefaultPath+")")

	cmd.AddCommand(
		newServeCmd(opts),
		newConnectionsCmd(opts),
		newPublishCmd(opts),
		newSubscribeCmd(opts),
		newTokenCmd(opts),
	)
	return cmd
}

// load reads the daemon configuration. The file may be absent unless it was
// named explicitly by flag or environment.
func (o *rootOptions) load() (*config.Config, string, error) {
	path := config.ResolvePath(o.configPath)
	optional := o.configPath == "" && os.Getenv(config.EnvPrefix+"CONFIG") == ""
	cfg, err := config.Load(path, optional)
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}
