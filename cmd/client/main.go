package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gowebio/webio/internal/client"
	"github.com/gowebio/webio/internal/event"
)

func main() {
	pageURL := flag.String("url", "http://127.0.0.1:8080/?app=index", "page URL; pywebio_api and debug query params are honored")
	forcePoll := flag.Bool("poll", false, "skip the probe and use the polling transport")
	pollInterval := flag.Duration("poll-interval", client.DefaultPollInterval, "poll interval for the polling transport")
	flag.Parse()

	api, debug, err := client.ResolveAPI(*pageURL)
	if err != nil {
		log.Fatalf("resolve backend address: %v", err)
	}
	api = carryAppParam(api, *pageURL)

	kind := client.KindPolling
	if !*forcePoll {
		kind = client.SelectBackend(&http.Client{Timeout: 5 * time.Second}, api)
	}
	log.Printf("[client] backend %s, %s transport", api, kind)

	var transport client.Transport
	switch kind {
	case client.KindPolling:
		transport = client.NewPollTransport(api, client.PollOptions{Interval: *pollInterval})
	default:
		transport, err = client.NewWSTransport(api)
		if err != nil {
			log.Fatalf("websocket transport: %v", err)
		}
	}

	renderer := newTermRenderer()
	controller := client.NewController(transport, renderer)

	if err := transport.StartSession(debug); err != nil {
		log.Fatalf("start session: %v", err)
	}
	defer transport.Close()

	runREPL(controller, renderer)
}

// carryAppParam keeps the app selection from the page URL on the api
// URL, since ResolveAPI strips the query.
func carryAppParam(api, pageURL string) string {
	page, err := url.Parse(pageURL)
	if err != nil {
		return api
	}
	app := page.Query().Get("app")
	if app == "" {
		return api
	}
	u, err := url.Parse(api)
	if err != nil {
		return api
	}
	q := u.Query()
	q.Set("app", app)
	u.RawQuery = q.Encode()
	return u.String()
}

func runREPL(controller *client.Controller, renderer *termRenderer) {
	stdin := bufio.NewScanner(os.Stdin)

	for {
		select {
		case reason := <-renderer.terminated:
			if reason == "" {
				reason = "session closed"
			}
			fmt.Printf("\n-- %s --\n", reason)
			return
		case spec := <-renderer.forms:
			answerForm(controller, renderer, stdin, spec)
		}
	}
}

func answerForm(controller *client.Controller, renderer *termRenderer, stdin *bufio.Scanner, spec event.FormSpec) {
	for {
		values := make(map[string]string)
		for _, field := range spec.Fields {
			value, ok := promptField(controller, renderer, stdin, field)
			if !ok {
				return // stdin is gone
			}
			values[field.ID] = value
		}

		err := controller.Submit(values)
		if err == nil {
			return
		}
		var verr client.ValidationError
		if errors.As(err, &verr) {
			continue // feedback already rendered; ask again
		}
		log.Printf("[client] submit failed: %v", err)
		return
	}
}

// promptField reads one answer, reporting false once stdin is
// exhausted. A "!label" answer clicks a rendered button instead and
// re-prompts.
func promptField(controller *client.Controller, renderer *termRenderer, stdin *bufio.Scanner, field event.FieldSpec) (string, bool) {
	for {
		label := field.Label
		if label == "" {
			label = field.ID
		}
		if len(field.Options) > 0 {
			label += " (" + strings.Join(field.Options, "/") + ")"
		}
		if field.Placeholder != "" {
			label += " [" + field.Placeholder + "]"
		}
		fmt.Printf("%s: ", label)

		if !stdin.Scan() {
			return "", false
		}
		answer := strings.TrimSpace(stdin.Text())

		if strings.HasPrefix(answer, "!") {
			if id, ok := renderer.buttonByLabel(strings.TrimPrefix(answer, "!")); ok {
				if err := controller.Click(id); err != nil {
					log.Printf("[client] click failed: %v", err)
				}
			} else {
				fmt.Println("no such button")
			}
			continue
		}
		return answer, true
	}
}
