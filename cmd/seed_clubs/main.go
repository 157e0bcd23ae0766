package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"bookchain/bookclub"
	"bookchain/logging"
)

type seedFile struct {
	Clubs []seedClub `yaml:"clubs"`
}

type seedClub struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Creator     string         `yaml:"creator"`
	Members     []string       `yaml:"members"`
	Proposals   []seedProposal `yaml:"proposals"`
	Finalize    bool           `yaml:"finalize"`
	Finalizer   string         `yaml:"finalizer"`
	Posts       []seedPost     `yaml:"posts"`
}

type seedProposal struct {
	Title    string   `yaml:"title"`
	Author   string   `yaml:"author"`
	Proposer string   `yaml:"proposer"`
	Voters   []string `yaml:"voters"`
}

type seedPost struct {
	Title   string `yaml:"title"`
	Content string `yaml:"content"`
	Author  string `yaml:"author"`
}

func main() {
	file := flag.String("file", "seed.yaml", "YAML file describing the clubs to create")
	dbPath := flag.String("db", "bookchain.db", "SQLite database path")
	fresh := flag.Bool("fresh", false, "remove existing database files first")
	logLevel := flag.String("log-level", "warn", "log level")
	flag.Parse()

	if *fresh {
		fmt.Println("Cleaning up existing database files...")
		for _, f := range []string{*dbPath, *dbPath + "-shm", *dbPath + "-wal"} {
			if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
				fmt.Printf("Warning: Could not remove %s: %v\n", f, err)
			}
		}
	}

	seed, err := loadSeed(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading seed file: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.Setup(os.Stderr, *logLevel, logging.FormatConsole)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	manager, err := bookclub.NewClubManager(*dbPath, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating database: %v\n", err)
		os.Exit(1)
	}
	defer manager.Close()

	ctx := context.Background()
	ok, failed := apply(ctx, manager, seed, os.Stdout)

	fmt.Printf("\nSeeding complete!\n")
	fmt.Printf("Successfully created: %d clubs\n", ok)
	fmt.Printf("Errors: %d\n", failed)

	if ok > 0 {
		printSummary(ctx, manager, os.Stdout)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func loadSeed(path string) (*seedFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var seed seedFile
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &seed, nil
}

// apply creates every club in order. A club whose steps fail is counted as
// an error; steps already applied to it stay.
func apply(ctx context.Context, m *bookclub.ClubManager, seed *seedFile, out io.Writer) (ok, failed int) {
	for _, c := range seed.Clubs {
		fmt.Fprintf(out, "Seeding: %s... ", c.Name)
		id, err := seedClubInto(ctx, m, c)
		if err != nil {
			fmt.Fprintf(out, "ERROR - %v\n", err)
			failed++
			continue
		}
		fmt.Fprintf(out, "SUCCESS (ID: %d)\n", id)
		ok++
	}
	return ok, failed
}

func seedClubInto(ctx context.Context, m *bookclub.ClubManager, c seedClub) (int64, error) {
	id, err := m.CreateClub(ctx, c.Name, c.Description, c.Creator)
	if err != nil {
		return 0, err
	}
	for _, member := range c.Members {
		if err := m.JoinClub(ctx, id, member); err != nil {
			return id, fmt.Errorf("join %s: %w", member, err)
		}
	}
	for _, p := range c.Proposals {
		proposer := p.Proposer
		if proposer == "" {
			proposer = c.Creator
		}
		idx, err := m.ProposeBook(ctx, id, p.Title, p.Author, proposer)
		if err != nil {
			return id, fmt.Errorf("propose %q: %w", p.Title, err)
		}
		for _, v := range p.Voters {
			if err := m.VoteForBook(ctx, id, idx, v); err != nil {
				return id, fmt.Errorf("vote %q by %s: %w", p.Title, v, err)
			}
		}
	}
	if c.Finalize {
		finalizer := c.Finalizer
		if finalizer == "" {
			finalizer = c.Creator
		}
		if _, err := m.FinalizeVoting(ctx, id, finalizer); err != nil {
			return id, fmt.Errorf("finalize: %w", err)
		}
	}
	for _, p := range c.Posts {
		author := p.Author
		if author == "" {
			author = c.Creator
		}
		if _, err := m.CreatePost(ctx, id, p.Title, p.Content, author); err != nil {
			return id, fmt.Errorf("post %q: %w", p.Title, err)
		}
	}
	return id, nil
}

func printSummary(ctx context.Context, m *bookclub.ClubManager, out io.Writer) {
	clubs, err := m.ListClubs(ctx, "")
	if err != nil {
		fmt.Fprintf(out, "Error retrieving clubs: %v\n", err)
		return
	}
	fmt.Fprintln(out, "\nClubs:")
	fmt.Fprintf(out, "%-3s %-30s %-8s %-40s\n", "ID", "Name", "Members", "Current book")
	fmt.Fprintln(out, strings.Repeat("-", 85))
	for _, c := range clubs {
		fmt.Fprintf(out, "%-3d %-30s %-8d %-40s\n", c.ID, truncateString(c.Name, 30), c.MemberCount, truncateString(c.CurrentBook, 40))
	}
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
