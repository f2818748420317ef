package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root Cobra command
func NewRootCmd(root *Root) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "framer",
		Short: "Framer reframes photos to fixed aspect ratios",
		Long: `Framer places photos on a canvas of a fixed aspect ratio with a border and a
solid or blurred background, one at a time or in batches exported as a zip archive.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newComposeCmd(root))
	rootCmd.AddCommand(newExportCmd(root))
	rootCmd.AddCommand(newRatiosCmd(root))
	rootCmd.AddCommand(newPrefsCmd(root))
	rootCmd.AddCommand(newWatchCmd(root))
	rootCmd.AddCommand(newHistoryCmd(root))
	rootCmd.AddCommand(newServeCmd(root))
	rootCmd.AddCommand(newToolsCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newVersionCmd(root))

	return rootCmd
}

func newComposeCmd(root *Root) *cobra.Command {
	var (
		ff   frameFlags
		opts composeOptions
	)

	cmd := &cobra.Command{
		Use:   "compose <image>",
		Short: "Frame a single image",
		Long: `Frame one image with the current parameters. The result is written next to
the source as <name>_<ratio>.png unless --output is given; "-" writes to stdout.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := root.resolveParams(cmd, &ff)
			if err != nil {
				return err
			}
			return root.cmdCompose(cmd.Context(), p, args[0], opts)
		},
	}

	ff.register(cmd)
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "output file or directory (- for stdout)")
	cmd.Flags().BoolVar(&opts.copy, "copy", false, "copy the framed image to the clipboard")
	cmd.Flags().BoolVar(&opts.caption, "caption", false, "print the source and output dimensions")

	return cmd
}

func newExportCmd(root *Root) *cobra.Command {
	var (
		ff     frameFlags
		output string
	)

	cmd := &cobra.Command{
		Use:   "export <files or directories...>",
		Short: "Frame many images into one zip archive",
		Long: `Frame every image given, walking directories, and store the results in a zip
archive. Unreadable files are skipped; any failure while encoding aborts the
whole archive.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := root.resolveParams(cmd, &ff)
			if err != nil {
				return err
			}
			return root.cmdExport(cmd.Context(), p, args, output)
		},
	}

	ff.register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "", "archive path (default <export.output_dir>/<export.archive_name>)")

	return cmd
}

func newRatiosCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "ratios",
		Short: "List the available aspect ratios",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.cmdRatios()
		},
	}
}

func newPrefsCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prefs",
		Short: "Show or change the saved frame parameters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.cmdPrefsShow()
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the saved frame parameters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.cmdPrefsShow()
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set <key=value>...",
		Short: "Change saved parameters (ratio, border, background, color, blur)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.cmdPrefsSet(args)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Restore the default parameters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.cmdPrefsReset()
		},
	})

	return cmd
}

func newWatchCmd(root *Root) *cobra.Command {
	var (
		ff     frameFlags
		output string
		format string
	)

	cmd := &cobra.Command{
		Use:   "watch [directories...]",
		Short: "Frame images as they are added to a directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := root.resolveParams(cmd, &ff); err != nil {
				return err
			}
			if format == "" {
				format = root.cfg.Watch.Format
			}
			return root.cmdWatch(cmd.Context(), args, output, format)
		},
	}

	ff.register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "", "directory for framed images (default watch.output_dir)")
	cmd.Flags().StringVar(&format, "format", "", "output format (png|jpg)")

	return cmd
}

func newHistoryCmd(root *Root) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent exports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.cmdHistory(limit)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of exports to show")

	return cmd
}

func newServeCmd(root *Root) *cobra.Command {
	var (
		httpAddr string
		grpcAddr string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and gRPC APIs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.serveFn(cmd.Context(), root, httpAddr, grpcAddr)
		},
	}

	cmd.Flags().StringVar(&httpAddr, "addr", root.cfg.Server.HTTPAddr, "HTTP listen address")
	cmd.Flags().StringVar(&grpcAddr, "grpc-addr", root.cfg.Server.GRPCAddr, "gRPC listen address (empty disables)")

	return cmd
}

func newToolsCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "Show availability of optional external tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.cmdTools()
		},
	}
}

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.configShow()
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.configShow()
		},
	})

	return cmd
}

func newVersionCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.cmdVersion()
		},
	}
}
