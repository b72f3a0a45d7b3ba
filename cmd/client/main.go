package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/speles7172/lahak/internal/client"
	"github.com/speles7172/lahak/internal/config"
	"github.com/speles7172/lahak/internal/core/domain"
)

func main() {
	app := &cli.App{
		Name:  "lahak",
		Usage: "stock counting client",
		Commands: []*cli.Command{
			signinCommand(),
			lookupCommand(),
			submitCommand(),
			scanCommand(),
			assetsCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func signinCommand() *cli.Command {
	return &cli.Command{
		Name:  "signin",
		Usage: "bootstrap a session and remember the identity",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Required: true, Usage: "identity (email)"},
			&cli.StringFlag{Name: "server", Usage: "server base url"},
		},
		Action: func(c *cli.Context) error {
			env, prefs, prefsPath, err := loadSetup()
			if err != nil {
				return err
			}
			server := firstOf(c.String("server"), prefs.Server, env.ServerURL)

			gw, err := client.NewGateway(server, nil)
			if err != nil {
				return err
			}
			session := client.NewSession(gw)
			if err := session.Open(c.Context, c.String("user")); err != nil {
				return err
			}

			user := session.User()
			prefs.Identity = user.Email
			prefs.Server = server
			if prefs.Location == "" {
				prefs.Location = user.DefaultLocation
			}
			if err := prefs.Save(prefsPath); err != nil {
				return err
			}

			fmt.Printf("signed in as %s (%s)\n", user.Name, user.Email)
			fmt.Printf("locations: %d\n", len(session.Locations()))
			return nil
		},
	}
}

func lookupCommand() *cli.Command {
	return &cli.Command{
		Name:      "lookup",
		Usage:     "fetch one item by code",
		ArgsUsage: "CODE",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("usage: lookup CODE")
			}
			gw, err := gatewayFromPrefs(c.String("server"))
			if err != nil {
				return err
			}

			item, err := gw.LookupItem(c.Context, c.Args().First())
			if err != nil {
				return err
			}
			printItem(item)
			return nil
		},
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "server", Usage: "server base url"},
		},
	}
}

func submitCommand() *cli.Command {
	return &cli.Command{
		Name:  "submit",
		Usage: "record one stock movement",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "code", Aliases: []string{"c"}, Required: true},
			&cli.Float64Flag{Name: "qty", Aliases: []string{"q"}, Required: true, Usage: "signed quantity delta"},
			&cli.StringFlag{Name: "location", Aliases: []string{"l"}},
			&cli.StringFlag{Name: "comment", Aliases: []string{"m"}},
			&cli.StringFlag{Name: "server", Usage: "server base url"},
		},
		Action: func(c *cli.Context) error {
			env, prefs, _, err := loadSetup()
			if err != nil {
				return err
			}
			if prefs.Identity == "" {
				return fmt.Errorf("no identity saved, run signin first")
			}

			gw, err := client.NewGateway(firstOf(c.String("server"), prefs.Server, env.ServerURL), nil)
			if err != nil {
				return err
			}

			receipt, err := gw.SubmitTransaction(c.Context, client.SubmitPayload{
				ItemCode: c.String("code"),
				Qty:      c.Float64("qty"),
				Location: firstOf(c.String("location"), prefs.Location),
				User:     prefs.Identity,
				Comments: c.String("comment"),
			})
			if err != nil {
				return err
			}

			fmt.Printf("%s %s @ %s: %g -> %g (%+g)\n",
				receipt.ItemCode, receipt.ItemName, receipt.Location,
				receipt.OldQty, receipt.NewQty, receipt.Delta)
			return nil
		},
	}
}

func scanCommand() *cli.Command {
	return &cli.Command{
		Name:      "scan",
		Usage:     "look up codes line by line, optionally booking a fixed delta per scan",
		ArgsUsage: "[FILE]",
		Flags: []cli.Flag{
			&cli.Float64Flag{Name: "qty", Aliases: []string{"q"}, Usage: "submit this delta per scanned code"},
			&cli.StringFlag{Name: "location", Aliases: []string{"l"}},
			&cli.StringFlag{Name: "server", Usage: "server base url"},
		},
		Action: func(c *cli.Context) error {
			env, prefs, _, err := loadSetup()
			if err != nil {
				return err
			}
			if prefs.Identity == "" {
				return fmt.Errorf("no identity saved, run signin first")
			}

			in := io.Reader(os.Stdin)
			if c.NArg() == 1 {
				f, err := os.Open(c.Args().First())
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			gw, err := client.NewGateway(firstOf(c.String("server"), prefs.Server, env.ServerURL), nil)
			if err != nil {
				return err
			}
			session := client.NewSession(gw)
			if err := session.Open(c.Context, prefs.Identity); err != nil {
				return err
			}
			if loc := firstOf(c.String("location"), prefs.Location); loc != "" {
				if err := session.SelectLocation(loc); err != nil {
					return err
				}
			}

			stream := client.NewReaderStream(in)
			for {
				code, err := stream.Next(c.Context)
				if err == io.EOF {
					return nil
				}
				if err != nil {
					return err
				}

				if c.IsSet("qty") {
					receipt, err := session.Submit(c.Context, client.SubmitPayload{
						ItemCode: code,
						Qty:      c.Float64("qty"),
					})
					if err != nil {
						// One bad scan should not kill the run.
						fmt.Printf("%s: error: %v\n", code, err)
						continue
					}
					fmt.Printf("%s: %g -> %g\n", receipt.ItemCode, receipt.OldQty, receipt.NewQty)
					continue
				}

				item, err := session.Lookup(code)
				if err != nil {
					fmt.Printf("%s: error: %v\n", code, err)
					continue
				}
				printItem(item)
			}
		},
	}
}

func assetsCommand() *cli.Command {
	return &cli.Command{
		Name:  "assets",
		Usage: "offline asset cache",
		Subcommands: []*cli.Command{
			{
				Name:  "pull",
				Usage: "download the asset manifest and cache every file",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "server", Usage: "server base url"},
				},
				Action: func(c *cli.Context) error {
					env, prefs, _, err := loadSetup()
					if err != nil {
						return err
					}
					server := firstOf(c.String("server"), prefs.Server, env.ServerURL)

					cacheDir := env.CacheDir
					if cacheDir == "" {
						base, err := os.UserCacheDir()
						if err != nil {
							return err
						}
						cacheDir = filepath.Join(base, "lahak", "assets")
					}

					store := client.NewDiskStore(cacheDir, env.AssetGeneration)
					transport, err := client.NewCacheTransport(store, server, nil)
					if err != nil {
						return err
					}
					httpClient := &http.Client{Transport: transport}

					manifest, err := fetchManifest(httpClient, server)
					if err != nil {
						return err
					}
					for _, name := range manifest {
						res, err := httpClient.Get(strings.TrimSuffix(server, "/") + "/assets/" + name)
						if err != nil {
							return err
						}
						io.Copy(io.Discard, res.Body)
						res.Body.Close()
					}
					if err := store.Activate(); err != nil {
						return err
					}

					fmt.Printf("cached %d assets (generation %s)\n", len(manifest), env.AssetGeneration)
					return nil
				},
			},
		},
	}
}

func fetchManifest(httpClient *http.Client, server string) ([]string, error) {
	res, err := httpClient.Get(strings.TrimSuffix(server, "/") + "/assets/manifest.json")
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("manifest fetch: %s", res.Status)
	}

	var manifest struct {
		Files []string `json:"files"`
	}
	if err := json.NewDecoder(res.Body).Decode(&manifest); err != nil {
		return nil, err
	}
	return manifest.Files, nil
}

func loadSetup() (config.Client, client.Prefs, string, error) {
	env, err := config.LoadClient()
	if err != nil {
		return env, client.Prefs{}, "", err
	}

	prefsPath := env.PrefsPath
	if prefsPath == "" {
		prefsPath, err = client.DefaultPrefsPath()
		if err != nil {
			return env, client.Prefs{}, "", err
		}
	}

	prefs, err := client.LoadPrefs(prefsPath)
	if err != nil {
		return env, prefs, prefsPath, err
	}
	return env, prefs, prefsPath, nil
}

func gatewayFromPrefs(serverFlag string) (*client.Gateway, error) {
	env, prefs, _, err := loadSetup()
	if err != nil {
		return nil, err
	}
	return client.NewGateway(firstOf(serverFlag, prefs.Server, env.ServerURL), nil)
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func printItem(it *domain.Item) {
	fmt.Printf("%s  %s", it.Code, it.Name)
	if it.Volume != "" {
		fmt.Printf("  %s", it.Volume)
	}
	fmt.Println()

	if it.Total != nil {
		fmt.Printf("  total: %g\n", *it.Total)
		return
	}
	codes := make([]string, 0, len(it.Locations))
	for code := range it.Locations {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	for _, code := range codes {
		fmt.Printf("  %s: %g\n", code, it.Locations[code])
	}
}
