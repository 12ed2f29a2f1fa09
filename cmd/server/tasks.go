package main

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/gowebio/webio/pkg/webio"
)

// greeter is the canonical ask-and-answer demo: two blocking inputs,
// one markdown result.
func greeter(io *webio.IO) {
	if err := io.PutMarkdown("# Welcome\nThis task runs on the server; answer below."); err != nil {
		return
	}

	name, err := io.Input("name", webio.Required(), webio.Placeholder("your name"))
	if err != nil {
		logInputErr("greeter", err)
		return
	}
	height, err := io.Input("height", webio.Type("number"), webio.Pattern(`^\d+$`),
		webio.Placeholder("height in cm"))
	if err != nil {
		logInputErr("greeter", err)
		return
	}

	io.PutMarkdown(fmt.Sprintf("Hello **%s**, you are %s cm tall.", name, height))
}

// sysinfo renders a host snapshot and keeps the session open with a
// refresh button until the user closes it.
func sysinfo(io *webio.IO) {
	render := func() {
		if err := io.PutMarkdown(hostSnapshot()); err != nil {
			log.Printf("[task] sysinfo render: %v", err)
		}
	}

	render()
	if err := io.OnClick("Refresh", render); err != nil {
		logInputErr("sysinfo", err)
		return
	}

	for {
		done, err := io.Confirm("Close this page?")
		if err != nil {
			logInputErr("sysinfo", err)
			return
		}
		if done {
			io.PutMarkdown("Goodbye.")
			return
		}
		render()
	}
}

func hostSnapshot() string {
	var b strings.Builder
	b.WriteString("## Host snapshot\n\n")
	b.WriteString("| metric | value |\n|---|---|\n")

	if info, err := host.Info(); err == nil {
		fmt.Fprintf(&b, "| hostname | %s |\n", info.Hostname)
		fmt.Fprintf(&b, "| platform | %s %s |\n", info.Platform, info.PlatformVersion)
		fmt.Fprintf(&b, "| uptime | %s |\n", (time.Duration(info.Uptime) * time.Second).String())
	}
	if percents, err := cpu.Percent(200*time.Millisecond, false); err == nil && len(percents) > 0 {
		fmt.Fprintf(&b, "| cpu | %.1f%% |\n", percents[0])
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		fmt.Fprintf(&b, "| memory | %.1f%% of %d MiB |\n", vm.UsedPercent, vm.Total/1024/1024)
	}

	fmt.Fprintf(&b, "\n_taken at %s_\n", time.Now().Format(time.RFC3339))
	return b.String()
}

func logInputErr(task string, err error) {
	if errors.Is(err, webio.ErrCancelled) {
		log.Printf("[task] %s: input cancelled by user", task)
		return
	}
	log.Printf("[task] %s: %v", task, err)
}
