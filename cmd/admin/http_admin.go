package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	os.Exit(printAdmin(os.Stdout, http.MethodGet, *baseURL, "state"))
}

// postCmd sends a POST to /admin/v1/<endpoint>: snapshot, reset, pause or
// resume.
func postCmd(endpoint string, args []string) {
	fs := flag.NewFlagSet(endpoint, flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	os.Exit(printAdmin(os.Stdout, http.MethodPost, *baseURL, endpoint))
}

// printAdmin performs one admin request, copies the body to w and returns
// the process exit code.
func printAdmin(w io.Writer, method, baseURL, endpoint string) int {
	u := strings.TrimRight(strings.TrimSpace(baseURL), "/") + "/admin/v1/" + endpoint
	req, err := http.NewRequest(method, u, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		return 2
	}
	cl := &http.Client{Timeout: 10 * time.Second}
	resp, err := cl.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		return 1
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Fprintln(w, strings.TrimSpace(string(b)))
	if resp.StatusCode/100 != 2 {
		return 1
	}
	return 0
}
