package main

import (
	"bufio"
	"fmt"
	"net/http"
	"os"
	"syscall"

	"golang.org/x/term"

	"github.com/docopt/docopt-go"

	"github.com/gorilla/websocket"

	"kuyapads.com/padsync"
)

const Version = "0.1.0"

const DefaultUrl = "ws://127.0.0.1:5000/ws"

func main() {
	usage := fmt.Sprintf(
		`Pad sync client.

Joins a pad, prints updates from other editors as they arrive, and sends
each line read from stdin as a content change.

The default url is:
    url: %s

Usage:
    padsyncctl tail <pad_id> --jwt=<jwt> [--url=<url>] [--password=<password>]

Options:
    -h --help              Show this screen.
    --version              Show version.
    --jwt=<jwt>            Session token.
    --url=<url>
    --password=<password>  Pad password, prompted when required and not given.`,
		DefaultUrl,
	)

	opts, err := docopt.ParseArgs(usage, os.Args[1:], Version)
	if err != nil {
		panic(err)
	}

	if tail_, _ := opts.Bool("tail"); tail_ {
		tail(opts)
	}
}

func tail(opts docopt.Opts) {
	padId, err := padsync.ParseId(opts["<pad_id>"].(string))
	if err != nil {
		fmt.Printf("bad pad id: %s\n", err)
		os.Exit(1)
	}
	jwt := opts["--jwt"].(string)

	url := DefaultUrl
	if urlAny := opts["--url"]; urlAny != nil {
		url = urlAny.(string)
	}

	var password string
	if passwordAny := opts["--password"]; passwordAny != nil {
		password = passwordAny.(string)
	}

	header := http.Header{}
	header.Set("Authorization", fmt.Sprintf("Bearer %s", jwt))
	ws, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		fmt.Printf("dial error: %s\n", err)
		os.Exit(1)
	}
	defer ws.Close()

	join := func(password string) {
		message := padsync.RequireEncodeFrame(&padsync.JoinPadFrame{
			PadId:    padId,
			Password: password,
		})
		if err := ws.WriteMessage(websocket.TextMessage, message); err != nil {
			fmt.Printf("write error: %s\n", err)
			os.Exit(1)
		}
	}
	join(password)

	go func() {
		in := bufio.NewScanner(os.Stdin)
		for in.Scan() {
			message := padsync.RequireEncodeFrame(&padsync.ContentChangeFrame{
				PadId:   padId,
				Content: in.Text(),
			})
			if err := ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		}
	}()

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			fmt.Printf("read error: %s\n", err)
			os.Exit(1)
		}
		frame, err := padsync.DecodeFrame(message)
		if err != nil {
			continue
		}
		switch v := frame.(type) {
		case *padsync.JoinResultFrame:
			if v.Allowed {
				fmt.Printf("joined %s\n", v.PadId)
			} else if v.Reason == "password required" || v.Reason == "bad password" {
				fmt.Print("Enter pad password: ")
				passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
				if err != nil {
					panic(err)
				}
				fmt.Printf("\n")
				join(string(passwordBytes))
			} else {
				fmt.Printf("join denied: %s\n", v.Reason)
				os.Exit(1)
			}
		case *padsync.ContentUpdateFrame:
			fmt.Printf("[%s] %s: %s\n", v.Timestamp.Format("15:04:05"), v.UserId, v.Content)
		case *padsync.TitleUpdateFrame:
			fmt.Printf("[%s] %s: title = %s\n", v.Timestamp.Format("15:04:05"), v.UserId, v.Title)
		case *padsync.CursorUpdateFrame:
			fmt.Printf("%s cursor @%d\n", v.Username, v.Position)
		}
	}
}
