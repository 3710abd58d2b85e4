package app

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/hitoshi/venuestatus/internal/config"
)

// NewRootCmd はサブコマンドを登録したルートコマンドを生成する。
// logWはログの出力先、outはrefresh・statusコマンドの結果の出力先。
// サブコマンドを省略した場合はserveとして起動する。
func NewRootCmd(logW, out io.Writer) *cobra.Command {
	var cfg *config.Config

	root := &cobra.Command{
		Use:           "venuestatus",
		Short:         "会場の営業状況を判定するWebサービスとチャットボット",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c, err := Init(logW)
			if err != nil {
				return err
			}
			cfg = c
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunServe(cmd.Context(), cfg)
		},
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "ステータスWebサーバーを起動する",
			RunE: func(cmd *cobra.Command, args []string) error {
				return RunServe(cmd.Context(), cfg)
			},
		},
		&cobra.Command{
			Use:   "bot",
			Short: "Nextcloud Talkのチャットボットを起動する（SIGHUPで停止中の会話を再開）",
			RunE: func(cmd *cobra.Command, args []string) error {
				return RunBot(cmd.Context(), cfg)
			},
		},
		&cobra.Command{
			Use:   "refresh",
			Short: "休業日キャッシュを強制更新して結果をJSONで出力する",
			RunE: func(cmd *cobra.Command, args []string) error {
				return RunRefresh(cmd.Context(), cfg, out)
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "ステータスAPIに問い合わせてボットと同じ文面を出力する",
			RunE: func(cmd *cobra.Command, args []string) error {
				return RunStatus(cmd.Context(), cfg, out)
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "データベースマイグレーションを適用する",
			RunE: func(cmd *cobra.Command, args []string) error {
				return RunMigrate(cfg)
			},
		},
		&cobra.Command{
			Use:   "healthcheck",
			Short: "ローカルのサーバーの/healthを確認する（Dockerヘルスチェック用）",
			RunE: func(cmd *cobra.Command, args []string) error {
				return RunHealthcheck(cfg.ServerPort)
			},
		},
	)

	return root
}

// Run は引数に応じたサブコマンドを実行する。
func Run(ctx context.Context, w io.Writer, args []string) error {
	root := NewRootCmd(w, os.Stdout)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}
