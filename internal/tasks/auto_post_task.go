package tasks

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"usebot/internal/database"
)

// Templates become reusable again after this cooldown.
const autoPostCooldown = 24 * time.Hour

// Group posts share one counter; they are not tied to a user.
const groupBudgetKey = int64(0)

// newAutoPostTask creates the task that broadcasts a weighted template to a
// random configured target chat, within the daily group posting budget.
func newAutoPostTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "auto_post")
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	return func(ctx context.Context) error {
		snap, err := deps.Catalog.Snapshot(ctx)
		if err != nil {
			return fmt.Errorf("failed to load catalog: %w", err)
		}

		if len(snap.Settings.TargetChats) == 0 {
			log.DebugContext(ctx, "no target chats configured, skipping")
			return nil
		}

		now := time.Now()
		candidates, err := deps.Store.ListAutoPostCandidates(ctx, now.Add(-autoPostCooldown))
		if err != nil {
			return fmt.Errorf("failed to list auto post candidates: %w", err)
		}
		if len(candidates) == 0 {
			log.DebugContext(ctx, "no reusable auto post templates")
			return nil
		}

		day := now.In(deps.Location).Format("2006-01-02")
		allowed, err := deps.Store.TryConsumeBudget(ctx, groupBudgetKey, day, database.ChannelGroup, snap.Settings.ChatPostsPerDay)
		if err != nil {
			return fmt.Errorf("failed to consume group budget: %w", err)
		}
		if !allowed {
			log.InfoContext(ctx, "daily group post budget exhausted", "day", day)
			return nil
		}

		post := pickWeighted(candidates, rng)
		chat := snap.Settings.TargetChats[rng.Intn(len(snap.Settings.TargetChats))]

		if err := deps.Sender.Send(ctx, chat, post.Template); err != nil {
			log.ErrorContext(ctx, "failed to send auto post", "chat", chat, "error", err)
			return fmt.Errorf("failed to send auto post: %w", err)
		}

		if err := deps.Store.TouchAutoPost(ctx, post.ID, now); err != nil {
			log.ErrorContext(ctx, "failed to mark auto post as used", "post_id", post.ID, "error", err)
		}

		if err := deps.Recorder.Record(ctx, "post", map[string]any{
			"post_id": post.ID,
			"chat":    chat,
		}); err != nil {
			log.ErrorContext(ctx, "post event not recorded", "post_id", post.ID, "error", err)
		}

		log.InfoContext(ctx, "auto post delivered", "post_id", post.ID, "chat", chat)
		return nil
	}
}

func pickWeighted(posts []database.AutoPost, rng *rand.Rand) database.AutoPost {
	total := 0
	for _, p := range posts {
		if p.Weight > 0 {
			total += p.Weight
		}
	}
	if total == 0 {
		return posts[rng.Intn(len(posts))]
	}

	draw := rng.Intn(total)
	for _, p := range posts {
		if p.Weight <= 0 {
			continue
		}
		draw -= p.Weight
		if draw < 0 {
			return p
		}
	}

	return posts[len(posts)-1]
}
