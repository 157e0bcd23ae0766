package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"bookchain/bookclub"
)

// shell is the interactive loop: one command per line, fields prompted for
// one at a time. Prompts are only printed when input is a terminal so the
// shell can also be driven from a script.
type shell struct {
	ctx         context.Context
	mgr         *bookclub.ClubManager
	sc          *bufio.Scanner
	out         io.Writer
	actor       string
	interactive bool
}

func (a *app) shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive club shell",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in := cmd.InOrStdin()
			sh := &shell{
				ctx:         cmd.Context(),
				mgr:         a.mgr,
				sc:          bufio.NewScanner(in),
				out:         cmd.OutOrStdout(),
				actor:       a.cfg.Actor,
				interactive: isTerminal(in),
			}
			sh.run()
			return nil
		},
	}
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (sh *shell) prompt(label string) {
	if sh.interactive {
		fmt.Fprint(sh.out, label)
	}
}

// field reads one trimmed line; ok is false at end of input.
func (sh *shell) field(label string) (string, bool) {
	sh.prompt(label)
	if !sh.sc.Scan() {
		return "", false
	}
	return strings.TrimSpace(sh.sc.Text()), true
}

func (sh *shell) clubID() (int64, bool) {
	s, ok := sh.field("Club ID: ")
	if !ok {
		return 0, false
	}
	id, err := parseID(s, "club ID")
	if err != nil {
		fmt.Fprintln(sh.out, err)
		return 0, false
	}
	return id, true
}

func (sh *shell) report(err error) {
	if err != nil {
		fmt.Fprintf(sh.out, "Error: %v\n", err)
	}
}

func (sh *shell) run() {
	if sh.interactive {
		fmt.Fprintln(sh.out, "Welcome to bookchain!")
		fmt.Fprintln(sh.out, "Available commands:")
		fmt.Fprintln(sh.out, "  Identity: use, whoami")
		fmt.Fprintln(sh.out, "  Clubs: create club, join club, list clubs, my clubs, show club")
		fmt.Fprintln(sh.out, "  Voting: propose book, vote, finalize")
		fmt.Fprintln(sh.out, "  Feed: post, list posts")
		fmt.Fprintln(sh.out, "  System: exit")
	}

	for {
		sh.prompt("\n> ")
		if !sh.sc.Scan() {
			break
		}
		cmd := strings.TrimSpace(sh.sc.Text())

		switch cmd {
		case "":
		case "use":
			sh.handleUse()
		case "whoami":
			if sh.actor == "" {
				fmt.Fprintln(sh.out, "No actor selected. Type 'use'.")
			} else {
				fmt.Fprintln(sh.out, sh.actor)
			}
		case "create club":
			sh.handleCreateClub()
		case "join club":
			sh.handleJoinClub()
		case "list clubs":
			clubs, err := sh.mgr.ListClubs(sh.ctx, "")
			sh.report(err)
			if err == nil {
				printClubs(sh.out, clubs)
			}
		case "my clubs":
			sh.handleMyClubs()
		case "show club":
			if id, ok := sh.clubID(); ok {
				sh.report(printClubDetails(sh.ctx, sh.out, sh.mgr, id))
			}
		case "propose book":
			sh.handleProposeBook()
		case "vote":
			sh.handleVote()
		case "finalize":
			sh.handleFinalize()
		case "post":
			sh.handleCreatePost()
		case "list posts":
			if id, ok := sh.clubID(); ok {
				posts, err := sh.mgr.GetClubPosts(sh.ctx, id)
				sh.report(err)
				if err == nil {
					printPosts(sh.out, posts)
				}
			}
		case "exit":
			fmt.Fprintln(sh.out, "Goodbye!")
			return
		default:
			fmt.Fprintln(sh.out, "Unknown command. Type one of the available commands listed above.")
		}
	}
}

func (sh *shell) handleUse() {
	s, ok := sh.field("Account address: ")
	if !ok {
		return
	}
	a, err := bookclub.ParseActor(s)
	if err != nil {
		sh.report(err)
		return
	}
	sh.actor = a.String()
	fmt.Fprintf(sh.out, "Acting as %s\n", sh.actor)
}

// requireActor reports and returns false when no identity was chosen yet.
func (sh *shell) requireActor() bool {
	if sh.actor == "" {
		fmt.Fprintln(sh.out, "No actor selected. Type 'use' first.")
		return false
	}
	return true
}

func (sh *shell) handleCreateClub() {
	if !sh.requireActor() {
		return
	}
	name, ok := sh.field("Name: ")
	if !ok {
		return
	}
	desc, ok := sh.field("Description: ")
	if !ok {
		return
	}
	id, err := sh.mgr.CreateClub(sh.ctx, name, desc, sh.actor)
	if err != nil {
		sh.report(err)
		return
	}
	fmt.Fprintf(sh.out, "Created club ID %d\n", id)
}

func (sh *shell) handleJoinClub() {
	if !sh.requireActor() {
		return
	}
	id, ok := sh.clubID()
	if !ok {
		return
	}
	if err := sh.mgr.JoinClub(sh.ctx, id, sh.actor); err != nil {
		sh.report(err)
		return
	}
	fmt.Fprintf(sh.out, "Joined club %d\n", id)
}

func (sh *shell) handleMyClubs() {
	if !sh.requireActor() {
		return
	}
	ids, err := sh.mgr.GetUserClubs(sh.ctx, sh.actor)
	if err != nil {
		sh.report(err)
		return
	}
	var clubs []*bookclub.Club
	for _, id := range ids {
		c, err := sh.mgr.GetClub(sh.ctx, id)
		if err != nil {
			sh.report(err)
			return
		}
		clubs = append(clubs, c)
	}
	printClubs(sh.out, clubs)
}

func (sh *shell) handleProposeBook() {
	if !sh.requireActor() {
		return
	}
	id, ok := sh.clubID()
	if !ok {
		return
	}
	title, ok := sh.field("Title: ")
	if !ok {
		return
	}
	author, ok := sh.field("Author: ")
	if !ok {
		return
	}
	idx, err := sh.mgr.ProposeBook(sh.ctx, id, title, author, sh.actor)
	if err != nil {
		sh.report(err)
		return
	}
	fmt.Fprintf(sh.out, "Proposed '%s' as proposal %d\n", title, idx)
}

func (sh *shell) handleVote() {
	if !sh.requireActor() {
		return
	}
	id, ok := sh.clubID()
	if !ok {
		return
	}

	// Show what is on the ballot before asking.
	if sh.interactive {
		if proposals, err := sh.mgr.GetClubProposals(sh.ctx, id); err == nil {
			printProposals(sh.out, proposals)
		}
	}

	s, ok := sh.field("Proposal index: ")
	if !ok {
		return
	}
	idx, err := parseID(s, "proposal index")
	if err != nil {
		sh.report(err)
		return
	}
	if err := sh.mgr.VoteForBook(sh.ctx, id, idx, sh.actor); err != nil {
		sh.report(err)
		return
	}
	fmt.Fprintf(sh.out, "Voted for proposal %d\n", idx)
}

func (sh *shell) handleFinalize() {
	if !sh.requireActor() {
		return
	}
	id, ok := sh.clubID()
	if !ok {
		return
	}
	winner, err := sh.mgr.FinalizeVoting(sh.ctx, id, sh.actor)
	if err != nil {
		sh.report(err)
		return
	}
	fmt.Fprintf(sh.out, "Now reading: %s by %s (%d votes)\n", winner.Title, winner.Author, winner.Votes)
}

func (sh *shell) handleCreatePost() {
	if !sh.requireActor() {
		return
	}
	id, ok := sh.clubID()
	if !ok {
		return
	}
	title, ok := sh.field("Title: ")
	if !ok {
		return
	}
	content, ok := sh.field("Content: ")
	if !ok {
		return
	}
	if _, err := sh.mgr.CreatePost(sh.ctx, id, title, content, sh.actor); err != nil {
		sh.report(err)
		return
	}
	fmt.Fprintln(sh.out, "Post created")
}
