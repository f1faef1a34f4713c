// ABOUTME: Principal management subcommands operating directly on the database
// ABOUTME: add, list, approve, revoke and token; every change is written to the audit log

package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/2389/hubgate/internal/auth"
	"github.com/2389/hubgate/internal/config"
	"github.com/2389/hubgate/internal/store"
)

// defaultTokenTTL is 30 days.
const defaultTokenTTL = 30 * 24 * time.Hour

func principalUsage() {
	fmt.Println("Usage: hubgate principal <action> [flags]")
	fmt.Println()
	fmt.Println("Actions:")
	fmt.Println("  add --name NAME [--type client|service] [--pending]   Create a principal and print a token")
	fmt.Println("  list [--status STATUS] [--type TYPE]                  List principals")
	fmt.Println("  approve ID                                            Approve a pending principal")
	fmt.Println("  revoke ID                                             Revoke a principal")
	fmt.Println("  token ID [--ttl DURATION]                             Issue a token for a principal")
}

func runPrincipal(ctx context.Context, args []string) error {
	if len(args) == 0 {
		principalUsage()
		return fmt.Errorf("principal action required")
	}

	action, rest := args[0], args[1:]
	switch action {
	case "add":
		return runPrincipalAdd(ctx, rest)
	case "list":
		return runPrincipalList(ctx, rest)
	case "approve":
		return runPrincipalStatus(ctx, "approve", rest, store.PrincipalStatusApproved, store.AuditApprovePrincipal)
	case "revoke":
		return runPrincipalStatus(ctx, "revoke", rest, store.PrincipalStatusRevoked, store.AuditRevokePrincipal)
	case "token":
		return runPrincipalToken(ctx, rest)
	default:
		principalUsage()
		return fmt.Errorf("unknown principal action: %s", action)
	}
}

// openStore loads the config and opens its database.
func openStore(configPath string) (*config.Config, *store.SQLiteStore, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	return cfg, s, nil
}

func issueToken(cfg *config.Config, principalID string, ttl time.Duration) (string, error) {
	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("creating JWT verifier: %w", err)
	}
	token, err := verifier.Generate(principalID, ttl)
	if err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return token, nil
}

func runPrincipalAdd(ctx context.Context, args []string) error {
	fs, configPath := newFlagSet("principal add")
	name := fs.StringP("name", "n", "", "display name (required)")
	typ := fs.String("type", string(store.PrincipalTypeClient), "principal type: client or service")
	pending := fs.Bool("pending", false, "create the principal pending approval")
	ttl := fs.Duration("ttl", defaultTokenTTL, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	displayName := strings.TrimSpace(*name)
	if displayName == "" {
		return fmt.Errorf("--name is required")
	}
	if len(displayName) > 100 {
		return fmt.Errorf("display name exceeds maximum length of 100 characters")
	}
	principalType := store.PrincipalType(*typ)
	if !principalType.Valid() {
		return fmt.Errorf("%w: %s", store.ErrInvalidType, *typ)
	}
	status := store.PrincipalStatusApproved
	if *pending {
		status = store.PrincipalStatusPending
	}

	cfg, s, err := openStore(*configPath)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	p := &store.Principal{
		ID:          uuid.New().String(),
		Type:        principalType,
		DisplayName: displayName,
		Status:      status,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.CreatePrincipal(ctx, p); err != nil {
		return fmt.Errorf("creating principal: %w", err)
	}
	if err := s.AppendAuditLog(ctx, &store.AuditEntry{
		Action:     store.AuditCreatePrincipal,
		TargetType: store.TargetPrincipal,
		TargetID:   p.ID,
		Detail:     map[string]any{"display_name": displayName, "type": *typ, "status": string(status)},
	}); err != nil {
		return fmt.Errorf("auditing principal creation: %w", err)
	}

	token, err := issueToken(cfg, p.ID, *ttl)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	green.Printf("  ✓ Created %s principal: %s\n", p.Type, displayName)
	fmt.Println()
	cyan.Println("  Principal")
	cyan.Println("  ---------")
	fmt.Printf("  ID:      %s\n", p.ID)
	fmt.Printf("  Status:  %s\n", p.Status)
	fmt.Printf("  Expires: %s\n", time.Now().Add(*ttl).UTC().Format("Jan 02, 2006"))
	fmt.Printf("  Token:   %s\n", token)
	return nil
}

func runPrincipalList(ctx context.Context, args []string) error {
	fs, configPath := newFlagSet("principal list")
	status := fs.String("status", "", "filter by status: pending, approved, revoked")
	typ := fs.String("type", "", "filter by type: client, service")
	limit := fs.Int("limit", 100, "maximum rows")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var filter store.PrincipalFilter
	filter.Limit = *limit
	if *status != "" {
		st := store.PrincipalStatus(*status)
		if !st.Valid() {
			return fmt.Errorf("%w: %s", store.ErrInvalidStatus, *status)
		}
		filter.Status = &st
	}
	if *typ != "" {
		pt := store.PrincipalType(*typ)
		if !pt.Valid() {
			return fmt.Errorf("%w: %s", store.ErrInvalidType, *typ)
		}
		filter.Type = &pt
	}

	_, s, err := openStore(*configPath)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	principals, err := s.ListPrincipals(ctx, filter)
	if err != nil {
		return fmt.Errorf("listing principals: %w", err)
	}
	if len(principals) == 0 {
		fmt.Println("no principals")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tNAME\tTYPE\tSTATUS\tLAST SEEN")
	for _, p := range principals {
		lastSeen := "never"
		if p.LastSeen != nil {
			lastSeen = p.LastSeen.Local().Format(time.DateTime)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", p.ID, p.DisplayName, p.Type, p.Status, lastSeen)
	}
	return tw.Flush()
}

func runPrincipalStatus(ctx context.Context, verb string, args []string, status store.PrincipalStatus, action store.AuditAction) error {
	fs, configPath := newFlagSet("principal " + verb)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: hubgate principal %s ID", verb)
	}
	id := fs.Arg(0)

	_, s, err := openStore(*configPath)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	if err := s.UpdatePrincipalStatus(ctx, id, status); err != nil {
		return fmt.Errorf("updating principal %s: %w", id, err)
	}
	if err := s.AppendAuditLog(ctx, &store.AuditEntry{
		Action:     action,
		TargetType: store.TargetPrincipal,
		TargetID:   id,
	}); err != nil {
		return fmt.Errorf("auditing status change: %w", err)
	}

	color.New(color.FgGreen).Printf("  ✓ Principal %s is now %s\n", id, status)
	return nil
}

func runPrincipalToken(ctx context.Context, args []string) error {
	fs, configPath := newFlagSet("principal token")
	ttl := fs.Duration("ttl", defaultTokenTTL, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: hubgate principal token ID")
	}
	id := fs.Arg(0)

	cfg, s, err := openStore(*configPath)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	p, err := s.GetPrincipal(ctx, id)
	if err != nil {
		return fmt.Errorf("looking up principal %s: %w", id, err)
	}
	if p.Status == store.PrincipalStatusRevoked {
		return fmt.Errorf("principal %s is revoked", id)
	}

	token, err := issueToken(cfg, p.ID, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

