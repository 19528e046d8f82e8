package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	cl "blueballs/internal/cli"
	"blueballs/internal/game"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
	"golang.org/x/term"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)

	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("33")).
			Padding(0, 2)
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(14)
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func promptOptional(label string) (string, error) {
	fmt.Printf("%s: ", label)
	text, err := stdinReader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// promptPassword hides input on a terminal and falls back to a plain prompt
// when stdin is piped.
func promptPassword(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return promptRequired(label)
	}
	for {
		fmt.Printf("%s: ", label)
		raw, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", err
		}
		if text := strings.TrimSpace(string(raw)); text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func promptChoice(label string, options []string, defaultValue string) (string, error) {
	normalized := make(map[string]struct{}, len(options))
	for _, opt := range options {
		normalized[strings.ToLower(strings.TrimSpace(opt))] = struct{}{}
	}
	for {
		fmt.Printf("%s (%s) [%s]: ", label, strings.Join(options, "/"), defaultValue)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.ToLower(strings.TrimSpace(text))
		if text == "" {
			text = strings.ToLower(strings.TrimSpace(defaultValue))
		}
		if _, ok := normalized[text]; ok {
			return text, nil
		}
		printWarn("Invalid option. Please pick one of the listed values.")
	}
}

func promptInt64(label string, floor int64) (int64, error) {
	for {
		text, err := promptRequired(label)
		if err != nil {
			return 0, err
		}
		v, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			printWarn("Enter a whole number.")
			continue
		}
		if v < floor {
			printWarn(fmt.Sprintf("Value must be >= %d", floor))
			continue
		}
		return v, nil
	}
}

func renderProfileCard(out cl.ProfileResponse) string {
	p := out.Progression
	row := func(label, value string) string {
		return labelStyle.Render(label) + value
	}
	lines := []string{
		titleStyle.Render(fmt.Sprintf("%s  [%s]", out.Profile.Username, strings.ToUpper(string(p.Tier)))),
		"",
		row("Invite code", out.Profile.InviteCode),
		row("Region", string(out.Profile.Region)),
		row("Lives", formatLives(out.LivesNow, p)),
		row("Next life", formatNextLife(out.NextLifeAt)),
		row("Level", comma(p.LifetimeLevel)),
		row("Rank", rankLabel(p.CurrentRank)),
		row("Points", comma(p.LifetimePoints)),
		row("Last 30 days", comma(p.Last30DaysPoints)),
		row("Best easy", comma(p.HighScores.Easy)),
		row("Best medium", comma(p.HighScores.Medium)),
		row("Best hard", comma(p.HighScores.Hard)),
	}
	return cardStyle.Render(strings.Join(lines, "\n"))
}

func renderRegen(out cl.RegenResponse) {
	if out.LivesGained > 0 {
		printSuccess(fmt.Sprintf("+%d lives.", out.LivesGained))
	}
	accent.Printf("Lives %s\n", formatLives(out.Lives, out.Profile))
	printInfo("Next life: " + formatNextLife(out.NextLifeAt))
}

func renderSubmit(out cl.SubmitResponse) {
	printSuccess(fmt.Sprintf("Run recorded: %s points on %s.", comma(out.Run.PointsEarned), out.Run.Difficulty))
	if out.IsNewHighScore {
		accent.Printf("New %s high score: %s\n", out.Run.Difficulty, comma(out.Run.Score))
	}
	if out.LevelUp {
		accent.Printf("Level up! You are now level %d.\n", out.Profile.LifetimeLevel)
	}
	if out.RankUp {
		accent.Printf("Rank up! Welcome to %s.\n", rankLabel(out.Profile.CurrentRank))
	}
	printInfo(fmt.Sprintf("Lives left: %s", formatLives(out.Profile.Lives, out.Profile)))
}

func renderRuns(runs []game.Run) {
	accent.Println("\n== RECENT RUNS ==")
	if len(runs) == 0 {
		printInfo("No runs yet.")
		return
	}
	fmt.Printf("%-17s %-8s %12s %10s\n", "WHEN", "MODE", "SCORE", "POINTS")
	for _, r := range runs {
		fmt.Printf("%-17s %-8s %12s %10s\n",
			r.CreatedAt.Local().Format("2006-01-02 15:04"),
			r.Difficulty,
			comma(r.Score),
			comma(r.PointsEarned),
		)
	}
	fmt.Println()
}

func renderLeaderboard(out cl.LeaderboardResponse, scope string) {
	title := fmt.Sprintf("%s %s", scope, out.Board)
	if out.Region != "" {
		title += " / " + string(out.Region)
	}
	accent.Printf("\n== %s ==\n", strings.ToUpper(title))
	if len(out.Rows) == 0 {
		printInfo("No leaderboard rows yet.")
		return
	}
	fmt.Printf("%-5s %-18s %-10s %-14s %-9s %6s %12s\n", "POS", "PLAYER", "INVITE", "REGION", "RANK", "LEVEL", "VALUE")
	for _, row := range out.Rows {
		fmt.Printf("%-5d %-18s %-10s %-14s %-9s %6d %12s\n",
			row.Position,
			truncate(row.Username, 18),
			truncate(row.InviteCode, 10),
			row.Region,
			row.CurrentRank,
			row.LifetimeLevel,
			comma(row.Value),
		)
	}
	fmt.Println()
}

func renderNotifications(out cl.NotificationsResponse) {
	accent.Printf("\n== NOTIFICATIONS (%d unread) ==\n", out.Unread)
	if len(out.Notifications) == 0 {
		printInfo("Nothing here.")
		return
	}
	for _, n := range out.Notifications {
		marker := " "
		if !n.Read {
			marker = warn.Sprint("*")
		}
		fmt.Printf("%s %-6d %-16s %-14s %s\n",
			marker,
			n.ID,
			n.CreatedAt.Local().Format("Jan 02 15:04"),
			n.Type,
			n.Message,
		)
	}
	fmt.Println()
}

func formatLives(lives int64, a game.Account) string {
	if a.Unlimited() {
		return "unlimited"
	}
	return fmt.Sprintf("%d/%d", lives, a.MaxLives)
}

func formatNextLife(at *time.Time) string {
	if at == nil || at.IsZero() {
		return "full"
	}
	wait := time.Until(*at).Round(time.Second)
	if wait <= 0 {
		return "ready"
	}
	return fmt.Sprintf("in %s", wait)
}

func rankLabel(r game.Rank) string {
	switch r {
	case game.RankBlack:
		return danger.Sprint(string(r))
	case game.RankDiamond, game.RankPlatinum:
		return accent.Sprint(string(r))
	case game.RankGold:
		return warn.Sprint(string(r))
	default:
		return string(r)
	}
}

func comma(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	s := strconv.FormatInt(v, 10)
	if len(s) <= 3 {
		return sign + s
	}
	var b strings.Builder
	b.WriteString(sign)
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
		b.WriteByte(',')
	}
	for i := pre; i < len(s); i += 3 {
		b.WriteString(s[i : i+3])
		if i+3 < len(s) {
			b.WriteByte(',')
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
