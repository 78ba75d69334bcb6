package app

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/hitoshi/fediurl/internal/config"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はWebサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
	// CommandRewrite はURLを1件だけ書き換えて標準出力に表示する。
	CommandRewrite Command = "rewrite"
	// CommandVersion はバージョンを表示する。
	CommandVersion Command = "version"
)

// version はmainからビルド時の値で上書きされる。
var version = "dev"

// SetVersion はversionコマンドと --version で表示するバージョンを設定する。
func SetVersion(v string) {
	version = v
}

// withDefaultCommand は引数が空の場合にserveを補う。
func withDefaultCommand(args []string) []string {
	if len(args) == 0 {
		return []string{string(CommandServe)}
	}
	return args
}

// NewRootCommand はfediurlのコマンドツリーを生成する。
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "fediurl",
		Short: "Rewrites Mastodon URLs so they open on your own instance",
		Long: `fediurl looks up a remote Mastodon URL on your home instance and
redirects you to the same post or account there.

It can run as:
  - A web service (serve, default)
  - A one-shot command line rewriter (rewrite)`,
		Version:      version,
		SilenceUsage: true,
	}
	root.SetVersionTemplate(`{{printf "fediurl version %s\n" .Version}}`)

	root.AddCommand(newServeCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newHealthcheckCmd())
	root.AddCommand(newRewriteCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   string(CommandServe),
		Short: "Start the web service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := Init(cmd.OutOrStdout())
			if err != nil {
				return fmt.Errorf("initialization failed: %w", err)
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   string(CommandMigrate),
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := Init(cmd.OutOrStdout())
			if err != nil {
				return fmt.Errorf("initialization failed: %w", err)
			}
			return runMigrate(cfg)
		},
	}
}

// newHealthcheckCmd は軽量サブコマンドのため、フル初期化（DATABASE_URL等の検証）をスキップする。
func newHealthcheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   string(CommandHealthcheck),
		Short: "Check that the local web service is healthy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealthcheck(cmd.Context(), config.LoadClient().ServerPort)
		},
	}
}

func newRewriteCmd() *cobra.Command {
	var opts rewriteOptions

	cmd := &cobra.Command{
		Use:   string(CommandRewrite) + " [url]",
		Short: "Rewrite a single URL using your home instance",
		Long: `Looks up the URL on your home instance and prints the local URL.
If no URL is given it is read from standard input.

The access token is taken from --token or the FEDIURL_ACCESS_TOKEN environment variable.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				opts.url = args[0]
			}
			return runRewrite(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.instance, "instance", "", "Domain of your home instance, e.g. mastodon.social")
	cmd.Flags().StringVar(&opts.token, "token", "", "Access token for your home instance. Can also use FEDIURL_ACCESS_TOKEN env var.")
	_ = cmd.MarkFlagRequired("instance")

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   string(CommandVersion),
		Short: "Print the version number of fediurl",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "fediurl version %s\n", version)
		},
	}
}

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。サブコマンドが無い場合はserveとして起動する。
// ログとコマンドの出力はwに書き込む。
func Run(ctx context.Context, w io.Writer, args []string) error {
	root := NewRootCommand()
	root.SetOut(w)
	root.SetArgs(withDefaultCommand(args))
	return root.ExecuteContext(ctx)
}
