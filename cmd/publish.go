package cmd

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/abhisek/apgen/internal/publish"
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Upload rendered pages and images to object storage",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := env.cfg
		if !cfg.PublishEnabled() {
			return errors.New("publishing needs publish.endpoint and publish.bucket")
		}

		p, err := publish.New(publish.Config{
			Endpoint:  cfg.Publish.Endpoint,
			AccessKey: cfg.Publish.AccessKey,
			SecretKey: cfg.Publish.SecretKey,
			Bucket:    cfg.Publish.Bucket,
			Prefix:    cfg.Publish.Prefix,
			UseSSL:    cfg.Publish.UseSSL,
		}, env.log)
		if err != nil {
			return err
		}

		res, err := p.Publish(cmd.Context(), cfg.OutputDir)
		fmt.Printf("%d objects uploaded (%s) to %s\n", res.Uploaded, humanize.Bytes(uint64(res.Bytes)), cfg.Publish.Bucket)
		return err
	},
}
