package core

import (
	"context"

	"github.com/bwmarrin/discordgo"
)

// RequiredPermissions are the permissions that unlock mutating commands.
// Holding any one of them is enough.
const RequiredPermissions = discordgo.PermissionManageRoles | discordgo.PermissionAdministrator

// permissionSource is the part of discordgo used to compute channel permissions.
type permissionSource interface {
	statePermissions(userID, channelID string) (int64, error)
	restPermissions(ctx context.Context, userID, channelID string) (int64, error)
}

type sessionPermissions struct{ s *discordgo.Session }

func (sp sessionPermissions) statePermissions(userID, channelID string) (int64, error) {
	if sp.s.State == nil {
		return 0, discordgo.ErrStateNotFound
	}
	return sp.s.State.UserChannelPermissions(userID, channelID)
}

func (sp sessionPermissions) restPermissions(ctx context.Context, userID, channelID string) (int64, error) {
	return sp.s.UserChannelPermissions(userID, channelID, discordgo.WithContext(ctx))
}

// PermissionChecker decides whether a user may run commands that change lists or settings.
type PermissionChecker struct {
	source permissionSource
}

func NewPermissionChecker(session *discordgo.Session) *PermissionChecker {
	pc := &PermissionChecker{}
	if session != nil {
		pc.source = sessionPermissions{s: session}
	}
	return pc
}

// HasPermission reports whether userID holds RequiredPermissions in channelID.
// known carries permissions already computed by Discord (interaction members); pass 0 when absent.
// Guild owners and administrators pass through discordgo's permission computation.
func (pc *PermissionChecker) HasPermission(ctx context.Context, guildID, channelID, userID string, known int64) bool {
	if guildID == "" || userID == "" {
		return false
	}
	if known&RequiredPermissions != 0 {
		return true
	}
	if pc.source == nil {
		return false
	}
	perms, err := pc.source.statePermissions(userID, channelID)
	if err != nil {
		perms, err = pc.source.restPermissions(ctx, userID, channelID)
		if err != nil {
			return false
		}
	}
	return perms&RequiredPermissions != 0
}
