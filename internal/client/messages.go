package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"byggarportalen/internal/storage"
)

var ErrStreamClosed = errors.New("event stream closed before it was established")

func (c *Client) Messages(ctx context.Context, projectID string) ([]storage.Message, error) {
	var out []storage.Message
	err := c.do(ctx, "GET", projectPath(projectID)+"/messages", nil, &out)
	return out, err
}

// SendMessage posts content and returns the stored message with its sender profile
func (c *Client) SendMessage(ctx context.Context, projectID, content string) (storage.Message, error) {
	var out storage.Message
	err := c.do(ctx, "POST", projectPath(projectID)+"/messages", map[string]string{"content": content}, &out)
	return out, err
}

func (c *Client) DeleteMessage(ctx context.Context, projectID, messageID string) error {
	return c.do(ctx, "DELETE", projectPath(projectID)+"/messages/"+url.PathEscape(messageID), nil, nil)
}

// event is one server-sent event
type event struct {
	name string
	data string
}

// readEvent reads lines up to the next blank line. Comment lines are skipped.
func readEvent(r *bufio.Reader) (event, error) {
	var (
		e    event
		data []string
	)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return event{}, err
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if e.name == "" && len(data) == 0 {
				continue
			}
			e.data = strings.Join(data, "\n")
			return e, nil
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			e.name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
}

// stream is an open message subscription
type stream struct {
	cancel context.CancelFunc
	body   io.Closer
	done   chan struct{}
	once   sync.Once
}

// Close ends the subscription and waits until no more callbacks run. Only the first call has effect.
func (s *stream) Close() error {
	s.once.Do(func() {
		s.cancel()
		_ = s.body.Close()
	})
	<-s.done
	return nil
}

// SubscribeMessages opens the event stream of new project messages. It returns once the server
// confirmed the subscription; fn then runs for every inserted message, sequentially, until Close.
// Pushed messages carry no sender profile. ctx only bounds establishing the stream.
func (c *Client) SubscribeMessages(ctx context.Context, projectID string, fn func(storage.Message)) (io.Closer, error) {
	streamCtx, cancel := context.WithCancel(context.Background())
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	req, err := c.newRequest(streamCtx, "GET", projectPath(projectID)+"/messages/stream", nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open message stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		cancel()
		return nil, apiError(resp)
	}

	r := bufio.NewReader(resp.Body)
	first, err := readEvent(r)
	if err != nil || first.name != "connected" {
		resp.Body.Close()
		cancel()
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("open message stream: %w", err)
		}
		return nil, ErrStreamClosed
	}

	s := &stream{cancel: cancel, body: resp.Body, done: make(chan struct{})}
	go func() {
		defer close(s.done)
		for {
			e, err := readEvent(r)
			if err != nil {
				if streamCtx.Err() == nil {
					c.logger.Warnf("message stream of project (id: %s) ended: %v", projectID, err)
				}
				return
			}
			if e.name != "insert" {
				continue
			}

			var m storage.Message
			if err := json.Unmarshal([]byte(e.data), &m); err != nil {
				c.logger.Warnf("decoding message event: %v", err)
				continue
			}
			if streamCtx.Err() != nil {
				return
			}
			fn(m)
		}
	}()

	c.logger.Debugf("Subscribed to messages of project (id: %s)", projectID)
	return s, nil
}
