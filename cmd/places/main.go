package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/term"

	apiclient "github.com/splax/placeshare/pkg/api/client"
)

type cliConfig struct {
	APIBaseURL string `json:"api_base_url"`
	Token      string `json:"token"`
	UserID     string `json:"user_id"`
	Email      string `json:"email"`
}

var buildVersion = "dev"

const requestTimeout = 15 * time.Second

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "signup":
		err = commandSignup(args)
	case "login":
		err = commandLogin(args)
	case "logout":
		err = commandLogout()
	case "users":
		err = commandUsers(args)
	case "places":
		err = commandPlaces(args)
	case "version", "--version", "-v":
		printVersion()
		return
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func commandSignup(args []string) error {
	fs := flag.NewFlagSet("signup", flag.ExitOnError)
	name := fs.String("name", "", "Display name")
	email := fs.String("email", "", "Email address")
	password := fs.String("password", "", "Password (supply to avoid prompt)")
	imagePath := fs.String("image", "", "Path to a png or jpeg avatar")
	apiBase := fs.String("api", "", "API base URL (default "+apiclient.DefaultBaseURL+")")
	fs.Parse(args)

	if strings.TrimSpace(*name) == "" {
		return errors.New("--name is required")
	}
	if strings.TrimSpace(*email) == "" {
		return errors.New("--email is required")
	}
	image, closeImage, err := openImage(*imagePath)
	if err != nil {
		return err
	}
	defer closeImage()
	secret, err := readPassword(*password)
	if err != nil {
		return err
	}

	cfg, client, err := clientFor(*apiBase)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	session, err := client.Signup(ctx, apiclient.SignupInput{Name: *name, Email: *email, Password: secret, Image: image})
	if err != nil {
		return err
	}
	if err := rememberSession(cfg, session); err != nil {
		return err
	}
	fmt.Printf("signed up as %s (%s)\n", session.Email, session.UserID)
	return nil
}

func commandLogin(args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	email := fs.String("email", "", "Email address")
	password := fs.String("password", "", "Password (supply to avoid prompt)")
	apiBase := fs.String("api", "", "API base URL (default "+apiclient.DefaultBaseURL+")")
	fs.Parse(args)

	if strings.TrimSpace(*email) == "" {
		return errors.New("--email is required")
	}
	secret, err := readPassword(*password)
	if err != nil {
		return err
	}

	cfg, client, err := clientFor(*apiBase)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	session, err := client.Login(ctx, *email, secret)
	if err != nil {
		return err
	}
	if err := rememberSession(cfg, session); err != nil {
		return err
	}
	fmt.Println("login successful")
	return nil
}

func commandLogout() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Token, cfg.UserID, cfg.Email = "", "", ""
	if err := saveConfig(cfg); err != nil {
		return err
	}
	fmt.Println("logged out")
	return nil
}

func commandUsers(args []string) error {
	fs := flag.NewFlagSet("users", flag.ExitOnError)
	fs.Parse(args)

	_, client, err := clientFor("")
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	users, err := client.ListUsers(ctx)
	if err != nil {
		return err
	}
	for _, u := range users {
		fmt.Printf("%s\t%s\t%s\t%d places\n", u.ID, u.Name, u.Email, len(u.Places))
	}
	return nil
}

func commandPlaces(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: places places [list|get|create|update|delete]")
	}
	sub := args[0]
	switch sub {
	case "list":
		return placesList(args[1:])
	case "get":
		return placesGet(args[1:])
	case "create":
		return placesCreate(args[1:])
	case "update":
		return placesUpdate(args[1:])
	case "delete":
		return placesDelete(args[1:])
	default:
		return fmt.Errorf("unknown places command: %s", sub)
	}
}

func placesList(args []string) error {
	fs := flag.NewFlagSet("places list", flag.ExitOnError)
	userID := fs.String("user", "", "User identifier (defaults to the logged in user)")
	fs.Parse(args)

	cfg, client, err := clientFor("")
	if err != nil {
		return err
	}
	target := strings.TrimSpace(*userID)
	if target == "" {
		target = cfg.UserID
	}
	if target == "" {
		return errors.New("--user is required when not logged in")
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	places, err := client.ListPlacesByUser(ctx, target)
	if err != nil {
		return err
	}
	for _, p := range places {
		printPlace(p)
	}
	return nil
}

func placesGet(args []string) error {
	fs := flag.NewFlagSet("places get", flag.ExitOnError)
	placeID := fs.String("id", "", "Place identifier")
	fs.Parse(args)
	if strings.TrimSpace(*placeID) == "" {
		return errors.New("--id is required")
	}

	_, client, err := clientFor("")
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	place, err := client.GetPlace(ctx, *placeID)
	if err != nil {
		return err
	}
	printPlace(place)
	fmt.Printf("\t%s\n\timage: %s\n", place.Description, place.Image)
	return nil
}

func placesCreate(args []string) error {
	fs := flag.NewFlagSet("places create", flag.ExitOnError)
	title := fs.String("title", "", "Title")
	description := fs.String("description", "", "Description (at least 5 characters)")
	address := fs.String("address", "", "Street address")
	imagePath := fs.String("image", "", "Path to a png or jpeg image")
	fs.Parse(args)

	if strings.TrimSpace(*title) == "" {
		return errors.New("--title is required")
	}
	if strings.TrimSpace(*address) == "" {
		return errors.New("--address is required")
	}
	cfg, client, err := clientFor("")
	if err != nil {
		return err
	}
	token, err := requireToken(cfg)
	if err != nil {
		return err
	}
	image, closeImage, err := openImage(*imagePath)
	if err != nil {
		return err
	}
	defer closeImage()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	place, err := client.CreatePlace(ctx, token, apiclient.CreatePlaceInput{
		Title:       *title,
		Description: *description,
		Address:     *address,
		Image:       image,
	})
	if err != nil {
		return err
	}
	fmt.Printf("place created: %s (%s)\n", place.ID, place.Title)
	return nil
}

func placesUpdate(args []string) error {
	fs := flag.NewFlagSet("places update", flag.ExitOnError)
	placeID := fs.String("id", "", "Place identifier")
	title := fs.String("title", "", "New title")
	description := fs.String("description", "", "New description")
	fs.Parse(args)
	if strings.TrimSpace(*placeID) == "" {
		return errors.New("--id is required")
	}

	var input apiclient.UpdatePlaceInput
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "title":
			input.Title = title
		case "description":
			input.Description = description
		}
	})
	if input.Title == nil && input.Description == nil {
		return errors.New("provide --title and/or --description")
	}

	cfg, client, err := clientFor("")
	if err != nil {
		return err
	}
	token, err := requireToken(cfg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	place, err := client.UpdatePlace(ctx, token, *placeID, input)
	if err != nil {
		return err
	}
	fmt.Printf("place updated: %s (%s)\n", place.ID, place.Title)
	return nil
}

func placesDelete(args []string) error {
	fs := flag.NewFlagSet("places delete", flag.ExitOnError)
	placeID := fs.String("id", "", "Place identifier")
	fs.Parse(args)
	if strings.TrimSpace(*placeID) == "" {
		return errors.New("--id is required")
	}

	cfg, client, err := clientFor("")
	if err != nil {
		return err
	}
	token, err := requireToken(cfg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if err := client.DeletePlace(ctx, token, *placeID); err != nil {
		return err
	}
	fmt.Println("place deleted")
	return nil
}

func printPlace(p apiclient.Place) {
	fmt.Printf("%s\t%s\t%s\t%s\n", p.ID, p.Title, p.Address, p.CreatedAt.Format(time.RFC3339))
}

func clientFor(apiBase string) (cliConfig, *apiclient.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return cliConfig{}, nil, err
	}
	if strings.TrimSpace(apiBase) != "" {
		cfg.APIBaseURL = strings.TrimSpace(apiBase)
	}
	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return cliConfig{}, nil, err
	}
	return cfg, client, nil
}

func requireToken(cfg cliConfig) (string, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return "", errors.New("please login first using 'places login'")
	}
	return token, nil
}

func rememberSession(cfg cliConfig, session apiclient.Session) error {
	cfg.Token = session.Token
	cfg.UserID = session.UserID
	cfg.Email = session.Email
	return saveConfig(cfg)
}

func readPassword(supplied string) (string, error) {
	if secret := strings.TrimSpace(supplied); secret != "" {
		return secret, nil
	}
	fmt.Print("Password: ")
	bytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Print("\n")
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(bytes), nil
}

func openImage(path string) (apiclient.Image, func(), error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return apiclient.Image{}, func() {}, errors.New("--image is required")
	}
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if idx := strings.IndexByte(contentType, ';'); idx >= 0 {
		contentType = contentType[:idx]
	}
	switch contentType {
	case "image/png", "image/jpeg":
	default:
		return apiclient.Image{}, func() {}, fmt.Errorf("unsupported image type for %s", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return apiclient.Image{}, func() {}, fmt.Errorf("open image: %w", err)
	}
	return apiclient.Image{Filename: filepath.Base(path), ContentType: contentType, Body: f}, func() { _ = f.Close() }, nil
}

func loadConfig() (cliConfig, error) {
	path, err := configPath()
	if err != nil {
		return cliConfig{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cliConfig{APIBaseURL: apiclient.DefaultBaseURL}, nil
		}
		return cliConfig{}, err
	}
	var cfg cliConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cliConfig{}, err
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = apiclient.DefaultBaseURL
	}
	return cfg, nil
}

func saveConfig(cfg cliConfig) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func configPath() (string, error) {
	if override := strings.TrimSpace(os.Getenv("PLACES_CONFIG")); override != "" {
		return override, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".places", "config.json"), nil
}

func printUsage() {
	fmt.Printf("places CLI %s\n\n", buildVersion)
	fmt.Print(`Usage:
	places signup --name <name> --email user@example.com --image avatar.png [--password secret] [--api URL]
	places login --email user@example.com [--password secret] [--api URL]
	places logout
	places users
	places places list [--user <user-id>]
	places places get --id <place-id>
	places places create --title <title> --description <text> --address <address> --image photo.jpg
	places places update --id <place-id> [--title <title>] [--description <text>]
	places places delete --id <place-id>
	places version
`)
}

func printVersion() {
	fmt.Println(strings.TrimSpace(buildVersion))
}
