package notification

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"

	"keymatic-backend/internal/model"
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// SubscriptionStore is the persistence the worker pool reads owner subscriptions from.
type SubscriptionStore interface {
	SubscriptionsForOwner(ctx context.Context, ownerID string) ([]model.PushSubscription, error)
	DeleteSubscription(ctx context.Context, endpoint string) error
}

// Job is one completed pickup to announce.
type Job struct {
	Notice  Notice
	OwnerID string
}

type pushMessage struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Room  string `json:"room"`
}

// WorkerPool manages a pool of workers for sending notifications.
type WorkerPool struct {
	size     int
	jobs     chan Job
	store    SubscriptionStore
	notifier Notifier
	webpush  *webpush.Options
	sender   NotificationSender
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size, queue int, store SubscriptionStore, notifier Notifier, webpushOptions *webpush.Options) *WorkerPool {
	return &WorkerPool{
		size:     size,
		jobs:     make(chan Job, queue), // Buffered channel
		store:    store,
		notifier: notifier,
		webpush:  webpushOptions,
		sender:   &WebPushSender{}, // Use the real sender by default
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

// worker is the actual worker goroutine.
func (wp *WorkerPool) worker(ctx context.Context, id int) {
	log.Printf("Worker %d started", id)
	for {
		select {
		case job := <-wp.jobs:
			log.Printf("Worker %d announcing pickup of room %s on machine %s", id, job.Notice.RoomNo, job.Notice.MachineID)
			wp.process(ctx, job)
		case <-ctx.Done():
			log.Printf("Worker %d shutting down", id)
			return
		}
	}
}

// Dispatch queues a job without blocking. Notifications are best effort: a
// full queue drops the job.
func (wp *WorkerPool) Dispatch(job Job) bool {
	select {
	case wp.jobs <- job:
		return true
	default:
		log.Printf("Notification queue full; dropping pickup notice for room %s", job.Notice.RoomNo)
		return false
	}
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan Job {
	return wp.jobs
}

func (wp *WorkerPool) process(ctx context.Context, job Job) {
	if wp.notifier != nil {
		if err := wp.notifier.Notify(ctx, job.Notice); err != nil {
			log.Printf("Error notifying pickup of room %s: %v", job.Notice.RoomNo, err)
		}
	}
	wp.pushToOwner(ctx, job)
}

// pushToOwner sends a web push to every subscription of the key owner.
func (wp *WorkerPool) pushToOwner(ctx context.Context, job Job) {
	if job.OwnerID == "" || wp.store == nil || wp.webpush == nil || wp.webpush.VAPIDPrivateKey == "" {
		return
	}

	subscriptions, err := wp.store.SubscriptionsForOwner(ctx, job.OwnerID)
	if err != nil {
		log.Printf("Error fetching subscriptions for owner %s: %v", job.OwnerID, err)
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	payload, err := json.Marshal(pushMessage{
		Title: "Key picked up",
		Body:  "The key for room " + job.Notice.RoomNo + " was picked up by " + job.Notice.ClientName + ".",
		Room:  job.Notice.RoomNo,
	})
	if err != nil {
		log.Printf("Error encoding push payload: %v", err)
		return
	}

	log.Printf("Sending %d push notifications to owner %s", len(subscriptions), job.OwnerID)
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, payload)
	}
}

// sendNotification sends a single web push notification.
func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	// Manually construct the webpush.Subscription object
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		log.Printf("Error sending notification to %s: %v", sub.Endpoint, err)
		return
	}
	defer resp.Body.Close()

	// Handle expired subscriptions
	if resp.StatusCode == http.StatusGone {
		log.Printf("Subscription for endpoint %s is expired. Deleting.", sub.Endpoint)
		if err := wp.store.DeleteSubscription(ctx, sub.Endpoint); err != nil {
			log.Printf("Failed to delete expired subscription %s: %v", sub.Endpoint, err)
		}
	}
}
