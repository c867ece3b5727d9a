package core

import (
	"context"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/small-frappuccino/teamlists/pkg/log"
	"github.com/small-frappuccino/teamlists/pkg/theme"
)

// ResponseType selects the prefix and embed color of a standard reply.
type ResponseType int

const (
	ResponseSuccess ResponseType = iota
	ResponseError
	ResponseWarning
	ResponseInfo
)

// Format prefixes message with the marker for responseType.
func Format(responseType ResponseType, message string) string {
	switch responseType {
	case ResponseSuccess:
		return "✅ " + message
	case ResponseError:
		return "❌ " + message
	case ResponseWarning:
		return "⚠️ " + message
	case ResponseInfo:
		return "ℹ️ " + message
	default:
		return message
	}
}

// ColorFor returns the theme color for responseType.
func ColorFor(responseType ResponseType) int {
	switch responseType {
	case ResponseSuccess:
		return theme.Success()
	case ResponseError:
		return theme.Error()
	case ResponseWarning:
		return theme.Warning()
	case ResponseInfo:
		return theme.Info()
	default:
		return theme.Muted()
	}
}

// Embed builds a standard embed.
func Embed(responseType ResponseType, title, description string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       ColorFor(responseType),
		Timestamp:   time.Now().Format(time.RFC3339),
	}
}

var noMentions = &discordgo.MessageAllowedMentions{}

// interactionReplier answers a slash command. The first reply is the interaction
// response; later replies are follow-ups. After Defer the first reply edits the
// deferred response instead.
type interactionReplier struct {
	session *discordgo.Session
	i       *discordgo.InteractionCreate

	mu        sync.Mutex
	responded bool
	deferred  bool
}

func (r *interactionReplier) Defer(ctx context.Context, ephemeral bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.responded {
		return nil
	}
	var flags discordgo.MessageFlags
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	err := r.session.InteractionRespond(r.i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: flags},
	}, discordgo.WithContext(ctx))
	if err == nil {
		r.responded = true
		r.deferred = true
	}
	return err
}

func (r *interactionReplier) Reply(ctx context.Context, rep Reply) error {
	var flags discordgo.MessageFlags
	if rep.Ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	var embeds []*discordgo.MessageEmbed
	if rep.Embed != nil {
		embeds = []*discordgo.MessageEmbed{rep.Embed}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deferred {
		content := rep.Content
		edit := &discordgo.WebhookEdit{Content: &content, AllowedMentions: noMentions}
		if embeds != nil {
			edit.Embeds = &embeds
		}
		_, err := r.session.InteractionResponseEdit(r.i.Interaction, edit, discordgo.WithContext(ctx))
		if err == nil {
			r.deferred = false
		}
		return err
	}
	if !r.responded {
		err := r.session.InteractionRespond(r.i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content:         rep.Content,
				Embeds:          embeds,
				Flags:           flags,
				AllowedMentions: noMentions,
			},
		}, discordgo.WithContext(ctx))
		if err == nil {
			r.responded = true
		}
		return err
	}
	_, err := r.session.FollowupMessageCreate(r.i.Interaction, true, &discordgo.WebhookParams{
		Content:         rep.Content,
		Embeds:          embeds,
		Flags:           flags,
		AllowedMentions: noMentions,
	}, discordgo.WithContext(ctx))
	return err
}

// messageReplier answers a prefixed command in its channel. Ephemeral replies go
// to the author's DMs when private is set, falling back to the channel.
type messageReplier struct {
	session *discordgo.Session
	m       *discordgo.MessageCreate
	private bool
}

// Defer shows the typing indicator; prefix commands have no response deadline.
func (r *messageReplier) Defer(ctx context.Context, _ bool) error {
	return r.session.ChannelTyping(r.m.ChannelID, discordgo.WithContext(ctx))
}

func (r *messageReplier) Reply(ctx context.Context, rep Reply) error {
	send := &discordgo.MessageSend{
		Content:         rep.Content,
		AllowedMentions: noMentions,
	}
	if rep.Embed != nil {
		send.Embeds = []*discordgo.MessageEmbed{rep.Embed}
	}

	if rep.Ephemeral && r.private && r.m.Author != nil {
		dm, err := r.session.UserChannelCreate(r.m.Author.ID, discordgo.WithContext(ctx))
		if err == nil {
			if _, err = r.session.ChannelMessageSendComplex(dm.ID, send, discordgo.WithContext(ctx)); err == nil {
				return nil
			}
		}
		log.DiscordLogger().Debug("Private reply failed; replying in channel", "user_id", r.m.Author.ID, "err", err)
	}

	ref := r.m.Reference()
	failIfMissing := false
	ref.FailIfNotExists = &failIfMissing
	send.Reference = ref
	_, err := r.session.ChannelMessageSendComplex(r.m.ChannelID, send, discordgo.WithContext(ctx))
	return err
}
