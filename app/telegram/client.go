package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"nuclight.org/miniapp-chat/app/identity"
	"nuclight.org/miniapp-chat/pkg/assistant"
	"nuclight.org/miniapp-chat/pkg/audio"
	e "nuclight.org/miniapp-chat/pkg/entities"
	"nuclight.org/miniapp-chat/pkg/logger"
)

const (
	launchButtonText = "Open chat"
	unavailableText  = "The assistant is not available right now, please try again later."
	timeoutText      = "The assistant took too long to answer. Speech synthesis may take a while, please try again."
)

type Assistant interface {
	Send(ctx context.Context, userID, text, initData string) (*assistant.SendResponse, error)
}

// Sender is the part of tgbotapi.BotAPI the client talks through.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Client is the launcher bot of the Mini App. It answers /start with a button
// opening the Mini App and relays private text messages to the assistant.
type Client struct {
	Log        logger.Logger
	APIToken   string
	WorkersNum int
	WebAppURL  string
	Assistant  Assistant

	bot Sender
	wg  sync.WaitGroup
}

func (c *Client) Start(ctx context.Context) error {
	if c.WorkersNum == 0 {
		return fmt.Errorf("workers number must be greater than 0")
	}

	log := c.Log

	api, err := tgbotapi.NewBotAPI(c.APIToken)
	if err != nil {
		return fmt.Errorf("creating bot api: %w", err)
	}
	c.bot = api

	log.Info("bot api created", "username", api.Self.UserName)

	updatesConf := tgbotapi.NewUpdate(0)
	updatesConf.Timeout = 60

	updatesChan := api.GetUpdatesChan(updatesConf)

	for i := 0; i < c.WorkersNum; i++ {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.handleUpdatesFromChan(ctx, updatesChan)
		}()
	}

	return nil
}

func (c *Client) Wait() {
	c.wg.Wait()
}

func (c *Client) handleUpdatesFromChan(ctx context.Context, updatesChan tgbotapi.UpdatesChannel) {
	for {
		select {
		case <-ctx.Done():
			return
		case update := <-updatesChan:
			err := c.handleUpdate(ctx, update)
			if err != nil {
				c.Log.Error("handling update", "tg_update_id", update.UpdateID, "error", err)
			}
		}
	}
}

func (c *Client) handleUpdate(ctx context.Context, update tgbotapi.Update) error {
	log := c.Log.With("tg_update_id", update.UpdateID)

	defer func() {
		if err := recover(); err != nil {
			log.Error("panic", "error", err)
		}
	}()

	if update.Message == nil {
		log.Debug("message is nil")
		return nil
	}

	if update.Message.From == nil {
		log.Warn("message from is nil")
		return nil
	}

	if update.Message.Chat == nil {
		log.Warn("message chat is nil")
		return nil
	}

	if !update.Message.Chat.IsPrivate() {
		log.Debug("skipping non private message", "tg_chat_id", update.Message.Chat.ID)
		return nil
	}

	log.Info(
		"new message",
		"tg_message_id", update.Message.MessageID,
		"tg_user_id", update.Message.From.ID,
		"tg_user_nick", update.Message.From.UserName,
		"tg_user_name", identity.DisplayName(update.Message.From),
	)

	if update.Message.IsCommand() {
		switch update.Message.Command() {
		case "start", "app":
			_, err := c.bot.Send(launcherMessage(update.Message.Chat.ID, c.WebAppURL))
			if err != nil {
				return fmt.Errorf("sending launcher: %w", err)
			}
		default:
			log.Info("unknown command", "command", update.Message.Command())
		}
		return nil
	}

	if strings.TrimSpace(update.Message.Text) == "" {
		return nil
	}

	return c.relay(ctx, update.Message)
}

// relay forwards a private text to the assistant and sends back its reply
// with the synthesized speech when there is one.
func (c *Client) relay(ctx context.Context, message *tgbotapi.Message) error {
	chatID := message.Chat.ID
	log := c.Log.With("tg_chat_id", chatID)

	_, _ = c.bot.Send(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))

	res, err := c.Assistant.Send(ctx, identity.UserID(message.From), message.Text, "")
	if err != nil {
		text := unavailableText
		if errors.Is(err, assistant.ErrTimeout) {
			text = timeoutText
		}
		_, _ = c.bot.Send(tgbotapi.NewMessage(chatID, text))
		return fmt.Errorf("asking assistant: %w", err)
	}

	reply := tgbotapi.NewMessage(chatID, res.Message)
	reply.ReplyToMessageID = message.MessageID
	if _, err = c.bot.Send(reply); err != nil {
		return fmt.Errorf("sending reply: %w", err)
	}

	if res.AudioBase64 == "" {
		return nil
	}

	voice, err := audioMessage(chatID, message.MessageID, res.AudioBase64)
	if err != nil {
		log.Warn("reply audio is not decodable", "error", err)
		return nil
	}

	if _, err = c.bot.Send(voice); err != nil {
		return fmt.Errorf("sending reply audio: %w", err)
	}

	return nil
}

func launcherMessage(chatID int64, webAppURL string) tgbotapi.MessageConfig {
	msg := tgbotapi.NewMessage(
		chatID,
		"Hello, I am a voice assistant.\n"+
			"Open the chat to talk to me, or just write here.",
	)

	msg.DisableWebPagePreview = true

	if webAppURL != "" {
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonURL(launchButtonText, webAppURL),
			),
		)
	}

	return msg
}

func audioMessage(chatID int64, replyTo int, b64 string) (tgbotapi.AudioConfig, error) {
	data, err := audio.Decode(b64)
	if err != nil {
		return tgbotapi.AudioConfig{}, err
	}

	conf := tgbotapi.NewAudio(chatID, tgbotapi.FileBytes{
		Name:  "reply" + audio.Extension(e.MimeWAV),
		Bytes: data,
	})
	conf.ReplyToMessageID = replyTo

	return conf, nil
}
