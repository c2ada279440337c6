package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kolabdoc/collabedit/internal/httpapi"
)

func (m model) fetchStats() tea.Cmd {
	client, url := m.client, m.baseURL+"/api/stats"
	return func() tea.Msg {
		var stats httpapi.Stats
		if err := getJSON(client, url, &stats); err != nil {
			return errMsg{err}
		}
		return statsMsg(stats)
	}
}

func (m model) fetchSessions() tea.Cmd {
	client, url := m.client, m.baseURL+"/api/sessions"
	return func() tea.Msg {
		var sessions []httpapi.SessionSummary
		if err := getJSON(client, url, &sessions); err != nil {
			return errMsg{err}
		}
		return sessionsMsg(sessions)
	}
}

func getJSON(client *http.Client, url string, dst interface{}) error {
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("monitor: get %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("monitor: get %s: status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}
