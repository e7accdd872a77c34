package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// chatclient 手动测试工具：start_chat → 逐行 send_message → end_chat
func main() {
	server := flag.String("server", "http://127.0.0.1:5000", "gemini-proxy 地址")
	userID := flag.String("user", "", "user_id，需在白名单中")
	modelName := flag.String("model", "", "model_name，留空使用服务端默认值")
	mode := flag.String("mode", "rest", "发送方式: rest 或 ws")
	timeout := flag.Duration("timeout", 90*time.Second, "单次请求超时时间")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()

	if *userID == "" {
		flag.Usage()
		log.Fatal().Msg("请通过 -user 指定 user_id")
	}
	if *mode != "rest" && *mode != "ws" {
		log.Fatal().Str("mode", *mode).Msg("-mode 只能是 rest 或 ws")
	}

	c := &client{base: strings.TrimRight(*server, "/"), http: &http.Client{Timeout: *timeout}}

	var started struct {
		ChatID string `json:"chat_id"`
	}
	if err := c.post("/start_chat", map[string]any{"user_id": *userID, "model_name": *modelName}, &started); err != nil {
		log.Fatal().Err(err).Msg("start_chat 失败")
	}
	log.Info().Str("chat_id", started.ChatID).Msg("会话已创建，输入消息后回车，Ctrl-D 结束")

	var send func(string) (string, error)
	switch *mode {
	case "ws":
		conn, err := c.dial(started.ChatID)
		if err != nil {
			log.Fatal().Err(err).Msg("websocket 连接失败")
		}
		defer conn.Close()
		send = func(text string) (string, error) { return sendWS(conn, text, *timeout) }
	default:
		send = func(text string) (string, error) {
			var out struct {
				Response string `json:"response"`
			}
			err := c.post("/send_message", map[string]string{"chat_id": started.ChatID, "message": text}, &out)
			return out.Response, err
		}
	}

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		reply, err := send(text)
		if err != nil {
			log.Error().Err(err).Msg("send_message 失败")
			continue
		}
		fmt.Println(reply)
	}

	var ended struct {
		Message string `json:"message"`
	}
	if err := c.post("/end_chat", map[string]string{"chat_id": started.ChatID}, &ended); err != nil {
		log.Fatal().Err(err).Msg("end_chat 失败")
	}
	log.Info().Msg(ended.Message)
}

type client struct {
	base string
	http *http.Client
}

type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string { return fmt.Sprintf("%d: %s", e.Status, e.Message) }

func (c *client) post(path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := c.http.Post(c.base+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &apiError{Status: resp.StatusCode, Message: e.Error}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *client) dial(chatID string) (*websocket.Conn, error) {
	u, err := url.Parse(c.base)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws/" + url.PathEscape(chatID)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	return conn, err
}

func sendWS(conn *websocket.Conn, text string, timeout time.Duration) (string, error) {
	if err := conn.WriteJSON(map[string]string{"message": text}); err != nil {
		return "", err
	}
	_ = conn.SetReadDeadline(time.Now().Add(timeout))

	var msg struct {
		Type     string `json:"type"`
		Response string `json:"response"`
		Status   int    `json:"status"`
		Error    string `json:"error"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		return "", err
	}
	if msg.Type == "error" {
		return "", &apiError{Status: msg.Status, Message: msg.Error}
	}
	if msg.Type != "response" {
		return "", errors.New("unexpected frame type " + msg.Type)
	}
	return msg.Response, nil
}
