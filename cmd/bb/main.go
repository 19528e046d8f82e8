package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"blueballs/internal/auth"
	cl "blueballs/internal/cli"
	"blueballs/internal/config"
	"blueballs/internal/game"
	"blueballs/internal/syncq"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func main() {
	cfg := config.LoadCLIFromEnv()
	apiBase := cfg.APIBaseURL

	root := &cobra.Command{
		Use:          "bb",
		Short:        "BlueBalls arcade client",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", apiBase, "API base URL")

	root.AddCommand(
		newSignupCmd(&apiBase),
		newLoginCmd(&apiBase),
		newLogoutCmd(),
		newProfileCmd(&apiBase),
		newLivesCmd(&apiBase),
		newSubmitCmd(&apiBase),
		newSyncCmd(&apiBase),
		newRunsCmd(&apiBase),
		newLeaderboardCmd(&apiBase),
		newFriendsCmd(&apiBase),
		newNotificationsCmd(&apiBase),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(apiBase *string) *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(*apiBase), "/"))
}

func sessionStore() (*cl.SessionStore, error) {
	dir, err := cl.BaseDir()
	if err != nil {
		return nil, err
	}
	return cl.OpenSessionStore(dir)
}

func offlineQueue() (*syncq.Queue, error) {
	dir, err := cl.BaseDir()
	if err != nil {
		return nil, err
	}
	return syncq.Open(dir)
}

func requireSession(apiBase *string) (cl.Session, error) {
	store, err := sessionStore()
	if err != nil {
		return cl.Session{}, err
	}
	sess, err := store.Load(*apiBase)
	if err != nil {
		return cl.Session{}, fmt.Errorf("login required: %w", err)
	}
	return sess, nil
}

func saveSession(apiBase *string, session auth.Session) error {
	store, err := sessionStore()
	if err != nil {
		return err
	}
	return store.Save(cl.Session{
		AccessToken:  session.AccessToken,
		RefreshToken: session.RefreshToken,
		Email:        session.User.Email,
		UserID:       session.User.ID,
		APIBaseURL:   strings.TrimRight(strings.TrimSpace(*apiBase), "/"),
	})
}

func newSignupCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "signup",
		Short: "Create a BlueBalls account",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := promptRequired("Email")
			if err != nil {
				return err
			}
			password, err := promptPassword("Password")
			if err != nil {
				return err
			}
			username, err := promptOptional("Username (optional)")
			if err != nil {
				return err
			}
			country, err := promptOptional("Country code, e.g. US (optional)")
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			session, err := newClient(apiBase).Signup(ctx, email, password, username, strings.ToUpper(country))
			if err != nil {
				return err
			}
			if strings.TrimSpace(session.AccessToken) == "" {
				printWarn("Signup created. Verify email, then run `bb login`.")
				return nil
			}
			if err := saveSession(apiBase, session); err != nil {
				return err
			}
			printSuccess("Signup complete. Session saved.")
			return nil
		},
	}
}

func newLoginCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Login to BlueBalls",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := promptRequired("Email")
			if err != nil {
				return err
			}
			password, err := promptPassword("Password")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			session, err := newClient(apiBase).Login(ctx, email, password)
			if err != nil {
				return err
			}
			if err := saveSession(apiBase, session); err != nil {
				return err
			}
			printSuccess("Login successful.")
			return nil
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear local session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := sessionStore()
			if err != nil {
				return err
			}
			if err := store.Clear(); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func newProfileCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:     "profile",
		Short:   "Show your progression",
		Aliases: []string{"me"},
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession(apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).Profile(ctx, sess.AccessToken)
			if err != nil {
				return err
			}
			fmt.Println(renderProfileCard(out))
			return nil
		},
	}
}

func newLivesCmd(apiBase *string) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "lives",
		Short: "Collect regenerated lives",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession(apiBase)
			if err != nil {
				return err
			}
			client := newClient(apiBase)
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			out, err := client.RegenLives(ctx, sess.AccessToken)
			cancel()
			if err != nil {
				return err
			}
			if !watch {
				renderRegen(out)
				return nil
			}
			_, err = tea.NewProgram(newLivesModel(client, sess.AccessToken, out)).Run()
			return err
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Keep a live countdown to the next life")
	return cmd
}

func newSubmitCmd(apiBase *string) *cobra.Command {
	var (
		score      int64
		points     int64
		difficulty string
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a finished run",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession(apiBase)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("score") {
				if score, err = promptInt64("Score", 0); err != nil {
					return err
				}
			}
			if difficulty == "" {
				if difficulty, err = promptChoice("Difficulty", []string{"easy", "medium", "hard"}, "easy"); err != nil {
					return err
				}
			}
			if !cmd.Flags().Changed("points") {
				if points, err = promptInt64("Points earned", 0); err != nil {
					return err
				}
			}
			d, err := game.ParseDifficulty(difficulty)
			if err != nil {
				return err
			}

			q := syncq.Submission{
				Score:          score,
				Difficulty:     d,
				PointsEarned:   points,
				IdempotencyKey: uuid.NewString(),
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).SubmitScore(ctx, sess.AccessToken, q.Body(), q.IdempotencyKey)
			if err != nil {
				return queueOnNetworkError(err, q)
			}
			renderSubmit(out)
			return nil
		},
	}
	cmd.Flags().Int64Var(&score, "score", 0, "Final score of the run")
	cmd.Flags().Int64Var(&points, "points", 0, "Points earned by the run")
	cmd.Flags().StringVar(&difficulty, "difficulty", "", "easy, medium or hard")
	return cmd
}

func newSyncCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay runs submitted while offline",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession(apiBase)
			if err != nil {
				return err
			}
			pending, err := offlineQueue()
			if err != nil {
				return err
			}
			queue, err := pending.Load()
			if err != nil {
				return err
			}
			if len(queue) == 0 {
				printInfo("Sync queue is empty.")
				return nil
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()

			remaining, results := newClient(apiBase).Replay(ctx, sess.AccessToken, queue)
			replayed := 0
			for _, res := range results {
				switch {
				case res.Err == nil:
					replayed++
				case cl.IsDuplicate(res.Err):
					printInfo(fmt.Sprintf("Already recorded: %s", res.Submission.IdempotencyKey))
				case cl.IsPermanent(res.Err):
					printError(fmt.Sprintf("Dropped %s run queued %s: %v", res.Submission.Difficulty, res.Submission.QueuedAt.Local().Format("Jan 02 15:04"), res.Err))
				default:
					printWarn(fmt.Sprintf("Still pending %s run queued %s: %v", res.Submission.Difficulty, res.Submission.QueuedAt.Local().Format("Jan 02 15:04"), res.Err))
				}
			}
			if err := pending.Save(remaining); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Sync complete: replayed=%d remaining=%d", replayed, len(remaining)))
			return nil
		},
	}
}

func newRunsCmd(apiBase *string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List your recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession(apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			runs, err := newClient(apiBase).Runs(ctx, sess.AccessToken, limit)
			if err != nil {
				return err
			}
			renderRuns(runs)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show")
	return cmd
}

func newLeaderboardCmd(apiBase *string) *cobra.Command {
	var (
		board   string
		region  string
		friends bool
	)
	cmd := &cobra.Command{
		Use:     "leaderboard",
		Short:   "Show leaderboards",
		Aliases: []string{"lb"},
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession(apiBase)
			if err != nil {
				return err
			}
			scope := "global"
			if friends {
				scope = "friends"
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).Leaderboard(ctx, sess.AccessToken, board, region, scope)
			if err != nil {
				return err
			}
			renderLeaderboard(out, scope)
			return nil
		},
	}
	cmd.Flags().StringVarP(&board, "board", "b", "lifetime", "lifetime, 30d, easy, medium or hard")
	cmd.Flags().StringVarP(&region, "region", "r", "", "Filter by region, e.g. europe")
	cmd.Flags().BoolVarP(&friends, "friends", "f", false, "Only you and players you follow")
	return cmd
}

func newFriendsCmd(apiBase *string) *cobra.Command {
	friends := &cobra.Command{
		Use:   "friends",
		Short: "Follow players by invite code",
	}
	friends.AddCommand(&cobra.Command{
		Use:   "add [invite-code]",
		Short: "Follow a player",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return followChange(cmd, apiBase, args, true)
		},
	})
	friends.AddCommand(&cobra.Command{
		Use:     "remove [invite-code]",
		Short:   "Stop following a player",
		Aliases: []string{"rm"},
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return followChange(cmd, apiBase, args, false)
		},
	})
	return friends
}

func followChange(cmd *cobra.Command, apiBase *string, args []string, follow bool) error {
	sess, err := requireSession(apiBase)
	if err != nil {
		return err
	}
	code, err := inviteCodeFromArgsOrPrompt(args)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	client := newClient(apiBase)
	if follow {
		if _, err := client.AddFriend(ctx, sess.AccessToken, code); err != nil {
			return err
		}
		printSuccess(fmt.Sprintf("Now following invite code %s.", code))
		return nil
	}
	if _, err := client.RemoveFriend(ctx, sess.AccessToken, code); err != nil {
		return err
	}
	printSuccess(fmt.Sprintf("Stopped following invite code %s.", code))
	return nil
}

func newNotificationsCmd(apiBase *string) *cobra.Command {
	notes := &cobra.Command{
		Use:     "notifications",
		Short:   "Show your notifications",
		Aliases: []string{"inbox"},
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession(apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).Notifications(ctx, sess.AccessToken)
			if err != nil {
				return err
			}
			renderNotifications(out)
			return nil
		},
	}
	notes.AddCommand(&cobra.Command{
		Use:   "read <id>",
		Short: "Mark one notification as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession(apiBase)
			if err != nil {
				return err
			}
			id, err := strconv.ParseInt(strings.TrimSpace(args[0]), 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid notification id %q", args[0])
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if err := newClient(apiBase).MarkNotificationRead(ctx, sess.AccessToken, id); err != nil {
				return err
			}
			printSuccess("Marked as read.")
			return nil
		},
	})
	notes.AddCommand(&cobra.Command{
		Use:   "read-all",
		Short: "Mark every notification as read",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession(apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if err := newClient(apiBase).MarkAllNotificationsRead(ctx, sess.AccessToken); err != nil {
				return err
			}
			printSuccess("Inbox cleared.")
			return nil
		},
	})
	return notes
}

// queueOnNetworkError keeps the run for `bb sync` when the API could not
// settle it. Rejections by the API are returned as-is.
func queueOnNetworkError(err error, q syncq.Submission) error {
	if err == nil {
		return nil
	}
	if cl.IsPermanent(err) {
		return err
	}
	pending, qerr := offlineQueue()
	if qerr == nil {
		qerr = pending.Push(q)
	}
	if qerr != nil {
		return fmt.Errorf("request failed and could not be queued: %v (queue: %w)", err, qerr)
	}
	printWarn(fmt.Sprintf("API unavailable (%v). Run queued; replay it with `bb sync`.", err))
	return nil
}

func inviteCodeFromArgsOrPrompt(args []string) (string, error) {
	if len(args) > 0 {
		return strings.ToUpper(strings.TrimSpace(args[0])), nil
	}
	code, err := promptRequired("Invite code")
	if err != nil {
		return "", err
	}
	return strings.ToUpper(code), nil
}
