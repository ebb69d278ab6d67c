package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/laityfaye/portfolio-pay/internal/adapter/middleware"
	"github.com/laityfaye/portfolio-pay/internal/adapter/storage"
	"github.com/laityfaye/portfolio-pay/internal/app"
	"github.com/laityfaye/portfolio-pay/internal/core/config"
	"github.com/laityfaye/portfolio-pay/internal/core/domain"
	"github.com/laityfaye/portfolio-pay/internal/core/payment"
)

// withService connects to the database and builds the payment service for one command.
func withService(cmd *cobra.Command, fn func(ctx context.Context, svc *payment.Service) error) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	logger, err := app.NewLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := cmd.Context()
	pool, err := storage.ConnectDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	svc, err := app.NewPaymentService(cfg, pool, logger)
	if err != nil {
		return err
	}
	return fn(ctx, svc)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the payment tables if they do not exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			pool, err := storage.ConnectDB(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := storage.Migrate(cmd.Context(), pool); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			return nil
		},
	}
}

func decideCmd(action string) *cobra.Command {
	var (
		actor string
		notes string
	)
	cmd := &cobra.Command{
		Use:   action + " [ref_command]",
		Short: fmt.Sprintf("Manually %s a pending payment", action),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				return fmt.Errorf("--actor is required")
			}
			var notesPtr *string
			if notes != "" {
				notesPtr = &notes
			}
			return withService(cmd, func(ctx context.Context, svc *payment.Service) error {
				apply := svc.Approve
				if action == "reject" {
					apply = svc.Reject
				}
				out, err := apply(ctx, args[0], "admin:"+actor, notesPtr)
				if err != nil {
					return err
				}
				printOutcome(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", os.Getenv("USER"), "operator recorded in verified_by")
	cmd.Flags().StringVar(&notes, "notes", "", "admin notes stored with the decision")
	return cmd
}

func refundCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "refund [ref_command]",
		Short: "Ask the gateway to refund an approved payment",
		Long:  "Ask the gateway to refund an approved payment. The payment is marked refunded when the refund IPN arrives.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				return fmt.Errorf("--actor is required")
			}
			return withService(cmd, func(ctx context.Context, svc *payment.Service) error {
				p, err := svc.Refund(ctx, args[0], "admin:"+actor)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "refund requested for %s (%s %s)\n", p.RefCommand, p.Amount.String(), p.Amount.Currency)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", os.Getenv("USER"), "operator requesting the refund")
	return cmd
}

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync [ref_command]",
		Short: "Poll the gateway for a pending payment and apply its status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, svc *payment.Service) error {
				out, err := svc.Sync(ctx, args[0])
				if err != nil {
					return err
				}
				printOutcome(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [ref_command]",
		Short: "Print a payment as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, svc *payment.Service) error {
				p, err := svc.Get(ctx, args[0])
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(paymentView(p))
			})
		},
	}
}

func listCmd() *cobra.Command {
	var (
		status string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List payments, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, svc *payment.Service) error {
				payments, err := svc.List(ctx, domain.PaymentStatus(status), limit)
				if err != nil {
					return err
				}
				printPayments(cmd.OutOrStdout(), payments)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&status, "status", "s", "pending", "pending, approved, rejected or empty for all")
	cmd.Flags().IntVarP(&limit, "limit", "n", config.GetEnvInt("PAYCTL_LIST_LIMIT", 50), "maximum rows")
	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		user string
		role string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a short-lived API token (for support and smoke tests)",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(user)
			if err != nil {
				return fmt.Errorf("--user must be a uuid: %w", err)
			}
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			token, err := middleware.IssueToken(cfg.JWTSecret, id, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "subject user id")
	cmd.Flags().StringVar(&role, "role", middleware.RoleAdmin, "role claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 15*time.Minute, "token lifetime")
	return cmd
}

type paymentJSON struct {
	RefCommand string     `json:"ref_command"`
	UserID     string     `json:"user_id"`
	Amount     string     `json:"amount"`
	Currency   string     `json:"currency"`
	Status     string     `json:"status"`
	Method     string     `json:"payment_method"`
	VerifiedBy *string    `json:"verified_by,omitempty"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
	RefundedAt *time.Time `json:"refunded_at,omitempty"`
	AdminNotes *string    `json:"admin_notes,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func paymentView(p *domain.Payment) paymentJSON {
	return paymentJSON{
		RefCommand: p.RefCommand,
		UserID:     p.UserID.String(),
		Amount:     p.Amount.String(),
		Currency:   string(p.Amount.Currency),
		Status:     string(p.Status),
		Method:     string(p.Method),
		VerifiedBy: p.VerifiedBy,
		VerifiedAt: p.VerifiedAt,
		RefundedAt: p.RefundedAt,
		AdminNotes: p.AdminNotes,
		CreatedAt:  p.CreatedAt,
	}
}

func printOutcome(w io.Writer, out *payment.Outcome) {
	switch {
	case out.Applied && out.Activated:
		fmt.Fprintf(w, "%s is now %s, account activated\n", out.Payment.RefCommand, out.Payment.Status)
	case out.Applied:
		fmt.Fprintf(w, "%s is now %s\n", out.Payment.RefCommand, out.Payment.Status)
	default:
		fmt.Fprintf(w, "%s unchanged (%s)\n", out.Payment.RefCommand, out.Payment.Status)
	}
}

func printPayments(w io.Writer, payments []domain.Payment) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "REF\tSTATUS\tMETHOD\tAMOUNT\tCREATED")
	for _, p := range payments {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s %s\t%s\n",
			p.RefCommand, p.Status, p.Method, p.Amount.String(), p.Amount.Currency, p.CreatedAt.Format(time.RFC3339))
	}
	tw.Flush()
}
