package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/molly1022/TMS-Dashboard/client"
	"github.com/molly1022/TMS-Dashboard/domain"
)

type app struct {
	configPath string
	apiURL     string
	token      string
	verbose    bool
	cfg        Config
	now        func() time.Time
}

func (a *app) gateway() (*client.HTTPGateway, error) {
	token, err := a.cfg.token(a.now())
	if err != nil {
		return nil, err
	}
	return client.NewHTTPGateway(a.cfg.APIURL, token, nil), nil
}

// mutate loads the board into a coordinator, submits one mutation and waits
// for the server to confirm it.
func (a *app) mutate(cmd *cobra.Command, boardID string, fn func(c *client.Coordinator) (*client.Mutation, error)) error {
	gw, err := a.gateway()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.Timeout+5*time.Second)
	defer cancel()
	coord, err := client.Load(ctx, gw, boardID, client.Config{Timeout: a.cfg.Timeout})
	if err != nil {
		return err
	}
	defer coord.Close()
	m, err := fn(coord)
	if err != nil {
		return err
	}
	b, err := m.Wait(ctx)
	if err != nil {
		return err
	}
	printBoard(cmd.OutOrStdout(), b)
	return nil
}

func newRootCmd() *cobra.Command {
	a := &app{now: time.Now}
	root := &cobra.Command{
		Use:           "boardctl",
		Short:         "Work with Kanban boards from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if a.verbose {
				log.SetLevel(log.DebugLevel)
			}
			cfg, err := loadConfig(a.configPath)
			if err != nil {
				return err
			}
			if a.apiURL != "" {
				cfg.APIURL = a.apiURL
			}
			if a.token != "" {
				cfg.Token = a.token
			}
			if cfg.Timeout <= 0 {
				cfg.Timeout = client.DefaultTimeout
			}
			a.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", defaultConfigPath(), "config file")
	root.PersistentFlags().StringVar(&a.apiURL, "api", "", "board-api base URL (overrides config)")
	root.PersistentFlags().StringVar(&a.token, "token", "", "bearer token (overrides config)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(a.tokenCmd(), a.boardsCmd(), a.boardCmd(), a.columnCmd(), a.cardCmd())
	return root
}

func (a *app) tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development token from dev.secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := mintToken(a.cfg.Dev, a.now(), ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

func (a *app) boardsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "boards",
		Short: "List your boards",
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, err := a.gateway()
			if err != nil {
				return err
			}
			boards, err := gw.ListBoards(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, b := range boards {
				star := " "
				if b.IsStarred {
					star = "*"
				}
				fmt.Fprintf(out, "%s %s\t%s\t%d cards\n", star, b.ID, b.Title, b.CardCount())
			}
			return nil
		},
	}
}

func (a *app) boardCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "board", Short: "Show or create boards"}
	cmd.AddCommand(&cobra.Command{
		Use:   "show <boardId>",
		Short: "Print a board",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, err := a.gateway()
			if err != nil {
				return err
			}
			b, err := gw.GetBoard(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printBoard(cmd.OutOrStdout(), b)
			return nil
		},
	})
	var description string
	create := &cobra.Command{
		Use:   "create <title>",
		Short: "Create a board",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, err := a.gateway()
			if err != nil {
				return err
			}
			b, err := gw.CreateBoard(cmd.Context(), domain.BoardInput{Title: args[0], Description: description})
			if err != nil {
				return err
			}
			printBoard(cmd.OutOrStdout(), b)
			return nil
		},
	}
	create.Flags().StringVar(&description, "description", "", "board description")
	cmd.AddCommand(create)
	return cmd
}

func (a *app) columnCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "column", Short: "Change columns"}
	cmd.AddCommand(&cobra.Command{
		Use:   "add <boardId> <title>",
		Short: "Append a column",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.mutate(cmd, args[0], func(c *client.Coordinator) (*client.Mutation, error) {
				return c.AddColumn(args[1])
			})
		},
	}, &cobra.Command{
		Use:   "move <boardId> <from> <to>",
		Short: "Move a column by index",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := indexes(args[1:])
			if err != nil {
				return err
			}
			return a.mutate(cmd, args[0], func(c *client.Coordinator) (*client.Mutation, error) {
				return c.MoveColumn(idx[0], idx[1])
			})
		},
	}, &cobra.Command{
		Use:   "rm <boardId> <columnId>",
		Short: "Delete a column and its cards",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.mutate(cmd, args[0], func(c *client.Coordinator) (*client.Mutation, error) {
				return c.RemoveColumn(args[1])
			})
		},
	})
	return cmd
}

func (a *app) cardCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "card", Short: "Change cards"}
	var description, due string
	add := &cobra.Command{
		Use:   "add <boardId> <columnId> <title>",
		Short: "Append a card to a column",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := domain.CardInput{Title: args[2], Description: description}
			if due != "" {
				t, err := domain.ParseTimestamp(due)
				if err != nil {
					return fmt.Errorf("invalid --due %q: %w", due, err)
				}
				in.DueDate = &t
			}
			return a.mutate(cmd, args[0], func(c *client.Coordinator) (*client.Mutation, error) {
				return c.AddCard(args[1], in)
			})
		},
	}
	add.Flags().StringVar(&description, "description", "", "card description")
	add.Flags().StringVar(&due, "due", "", "due date (YYYY-MM-DD or RFC 3339)")

	move := &cobra.Command{
		Use:   "move <boardId> <srcColumnId> <srcIndex> <dstColumnId> <dstIndex>",
		Short: "Move a card between positions",
		Args:  cobra.ExactArgs(5),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := indexes([]string{args[2], args[4]})
			if err != nil {
				return err
			}
			src := domain.Position{ColumnID: args[1], Index: idx[0]}
			dst := domain.Position{ColumnID: args[3], Index: idx[1]}
			return a.mutate(cmd, args[0], func(c *client.Coordinator) (*client.Mutation, error) {
				return c.MoveCard(src, dst)
			})
		},
	}
	rm := &cobra.Command{
		Use:   "rm <boardId> <cardId>",
		Short: "Delete a card",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.mutate(cmd, args[0], func(c *client.Coordinator) (*client.Mutation, error) {
				return c.RemoveCard(args[1])
			})
		},
	}
	cmd.AddCommand(add, move, rm)
	return cmd
}

func indexes(args []string) ([]int, error) {
	out := make([]int, 0, len(args))
	for _, s := range args {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid index %q", s)
		}
		out = append(out, n)
	}
	return out, nil
}

func printBoard(w io.Writer, b domain.Board) {
	fmt.Fprintf(w, "%s (%s)\n", b.Title, b.ID)
	for _, col := range b.Columns {
		fmt.Fprintf(w, "  [%d] %s (%s)\n", col.Order, col.Title, col.ID)
		for _, card := range col.Cards {
			line := fmt.Sprintf("    %d. %s (%s)", card.Order, card.Title, card.ID)
			if card.DueDate != nil {
				line += " due " + card.DueDate.Format("2006-01-02")
			}
			if card.Status == domain.CardStatusCompleted {
				line += " [done]"
			}
			fmt.Fprintln(w, line)
		}
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
