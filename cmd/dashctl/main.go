package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"

	"github.com/darksoil-studio/dash-chat/stores"
	"github.com/darksoil-studio/dash-chat/stores/local"
	"github.com/darksoil-studio/dash-chat/stores/remote"
)

const DashCtlVersion = "0.0.1"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `Dash chat control.

Operates on a local log store. The default store path is ./dash-chat.db.

Usage:
    dashctl profile set [--db=<db>] --name=<name> [--surname=<surname>] [--avatar=<avatar>]
    dashctl profile show [--db=<db>]
    dashctl code create [--db=<db>]
    dashctl contact add [--db=<db>] <code>
    dashctl contact reject [--db=<db>] <agent_id>
    dashctl contacts [--db=<db>]
    dashctl chats [--db=<db>]
    dashctl send [--db=<db>] <agent_id> [<message>]
    dashctl history [--db=<db>] <agent_id>
    dashctl tail [--db=<db>] <agent_id>
    dashctl group create [--db=<db>] --name=<name> [<member>...]
    dashctl group send [--db=<db>] --chat=<chat_id> [<message>]
    dashctl serve [--db=<db>] [--listen=<listen>]

Options:
    -h --help            Show this screen.
    --version            Show version.
    --db=<db>            Path to the log store.
    --name=<name>
    --surname=<surname>
    --avatar=<avatar>
    --chat=<chat_id>     Group chat id.
    --listen=<listen>    Listen address for serve. [default: 127.0.0.1:8559]`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], DashCtlVersion)
	if err != nil {
		panic(err)
	}

	if profile_, _ := opts.Bool("profile"); profile_ {
		if set_, _ := opts.Bool("set"); set_ {
			profileSet(opts)
		} else if show_, _ := opts.Bool("show"); show_ {
			profileShow(opts)
		}
	} else if code_, _ := opts.Bool("code"); code_ {
		codeCreate(opts)
	} else if contact_, _ := opts.Bool("contact"); contact_ {
		if add_, _ := opts.Bool("add"); add_ {
			contactAdd(opts)
		} else if reject_, _ := opts.Bool("reject"); reject_ {
			contactReject(opts)
		}
	} else if contacts_, _ := opts.Bool("contacts"); contacts_ {
		contactsList(opts)
	} else if chats_, _ := opts.Bool("chats"); chats_ {
		chatsList(opts)
	} else if group_, _ := opts.Bool("group"); group_ {
		if create_, _ := opts.Bool("create"); create_ {
			groupCreate(opts)
		} else if send_, _ := opts.Bool("send"); send_ {
			groupSend(opts)
		}
	} else if send_, _ := opts.Bool("send"); send_ {
		send(opts)
	} else if history_, _ := opts.Bool("history"); history_ {
		history(opts)
	} else if tail_, _ := opts.Bool("tail"); tail_ {
		tail(opts)
	} else if serve_, _ := opts.Bool("serve"); serve_ {
		serve(opts)
	}
}

type app struct {
	client        *local.Client
	logsStore     *stores.LogsStore
	devicesStore  *stores.DevicesStore
	contactsStore *stores.ContactsStore
	chatsStore    *stores.ChatsStore
}

func openApp(opts docopt.Opts) *app {
	path, err := opts.String("--db")
	if err != nil || path == "" {
		path = "dash-chat.db"
	}

	client, err := local.NewClient(path)
	if err != nil {
		Err.Fatalf("open store: %s", err)
	}

	logsStore := stores.NewLogsStore(client)
	devicesStore := stores.NewDevicesStore(logsStore, client)
	contactsStore := stores.NewContactsStore(logsStore, devicesStore, client)
	chatsStore := stores.NewChatsStore(logsStore, contactsStore, client)

	return &app{
		client:        client,
		logsStore:     logsStore,
		devicesStore:  devicesStore,
		contactsStore: contactsStore,
		chatsStore:    chatsStore,
	}
}

func (self *app) close() {
	self.client.Close()
}

func commandCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

func profileSet(opts docopt.Opts) {
	app := openApp(opts)
	defer app.close()

	ctx, cancel := commandCtx()
	defer cancel()

	name, _ := opts.String("--name")
	surname, _ := opts.String("--surname")
	avatar, _ := opts.String("--avatar")

	err := app.contactsStore.SetProfile(ctx, stores.Profile{
		Name:    name,
		Surname: surname,
		Avatar:  avatar,
	})
	if err != nil {
		Err.Fatalf("set profile: %s", err)
	}
	Out.Printf("profile updated")
}

func profileShow(opts docopt.Opts) {
	app := openApp(opts)
	defer app.close()

	ctx, cancel := commandCtx()
	defer cancel()

	agentId, err := app.contactsStore.MyAgentId().Get(ctx)
	if err != nil {
		Err.Fatalf("agent id: %s", err)
	}
	profile, err := app.contactsStore.MyProfile().Get(ctx)
	if err != nil {
		Err.Fatalf("profile: %s", err)
	}

	Out.Printf("agent: %s", agentId)
	if profile == nil {
		Out.Printf("no profile set")
	} else {
		Out.Printf("name: %s", stores.FullName(*profile))
		if profile.Avatar != "" {
			Out.Printf("avatar: %s", profile.Avatar)
		}
	}
}

func codeCreate(opts docopt.Opts) {
	app := openApp(opts)
	defer app.close()

	ctx, cancel := commandCtx()
	defer cancel()

	code, err := app.contactsStore.CreateContactCode(ctx)
	if err != nil {
		Err.Fatalf("create code: %s", err)
	}
	encoded, err := stores.EncodeContactCode(code)
	if err != nil {
		Err.Fatalf("encode code: %s", err)
	}
	Out.Printf("%s", encoded)
}

func contactAdd(opts docopt.Opts) {
	app := openApp(opts)
	defer app.close()

	ctx, cancel := commandCtx()
	defer cancel()

	encoded, _ := opts.String("<code>")
	code, err := stores.DecodeContactCode(encoded)
	if err != nil {
		Err.Fatalf("decode code: %s", err)
	}
	if err := app.contactsStore.AddContact(ctx, code); err != nil {
		Err.Fatalf("add contact: %s", err)
	}
	Out.Printf("added %s", code.AgentId)
}

func contactReject(opts docopt.Opts) {
	app := openApp(opts)
	defer app.close()

	ctx, cancel := commandCtx()
	defer cancel()

	agentId, _ := opts.String("<agent_id>")
	if err := app.contactsStore.RejectContactRequest(ctx, agentId); err != nil {
		Err.Fatalf("reject: %s", err)
	}
	Out.Printf("rejected %s", agentId)
}

func contactsList(opts docopt.Opts) {
	app := openApp(opts)
	defer app.close()

	ctx, cancel := commandCtx()
	defer cancel()

	profiles, err := app.contactsStore.ProfilesForAllContacts().Get(ctx)
	if err != nil {
		Err.Fatalf("contacts: %s", err)
	}
	if len(profiles) == 0 {
		Out.Printf("no contacts")
		return
	}
	for _, contactProfile := range profiles {
		Out.Printf("%s  %s", contactProfile.AgentId, stores.FullName(contactProfile.Profile))
	}
}

func chatsList(opts docopt.Opts) {
	app := openApp(opts)
	defer app.close()

	ctx, cancel := commandCtx()
	defer cancel()

	summaries, err := app.chatsStore.AllChatsSummaries().Get(ctx)
	if err != nil {
		Err.Fatalf("chats: %s", err)
	}
	if len(summaries) == 0 {
		Out.Printf("no chats")
		return
	}
	for _, summary := range summaries {
		when := time.UnixMicro(summary.LastEvent.Timestamp).Format(time.RFC3339)
		Out.Printf("[%s] %s (%d unread) %s: %s",
			summary.Type, summary.Name, summary.UnreadMessages, when, summary.LastEvent.Summary)
	}
}

func send(opts docopt.Opts) {
	app := openApp(opts)
	defer app.close()

	ctx, cancel := commandCtx()
	defer cancel()

	peer, _ := opts.String("<agent_id>")
	message, _ := opts.String("<message>")

	chat := app.chatsStore.DirectChat(peer)
	if err := chat.SendMessage(ctx, stores.TextMessage(message)); err != nil {
		Err.Fatalf("send: %s", err)
	}
	Out.Printf("sent")
}

func history(opts docopt.Opts) {
	app := openApp(opts)
	defer app.close()

	ctx, cancel := commandCtx()
	defer cancel()

	peer, _ := opts.String("<agent_id>")
	chat := app.chatsStore.DirectChat(peer)

	days, err := chat.MessageSets().Get(ctx)
	if err != nil {
		Err.Fatalf("history: %s", err)
	}
	for i := len(days) - 1; 0 <= i; i -= 1 {
		day := days[i]
		Out.Printf("== %s", day.Day.Format("2006-01-02"))
		for j := len(day.EventSets) - 1; 0 <= j; j -= 1 {
			run := day.EventSets[j]
			for k := len(run) - 1; 0 <= k; k -= 1 {
				message := run[k].Event
				when := time.UnixMicro(message.Timestamp).Format("15:04")
				Out.Printf("%s %s: %s", when, message.Author[:8], message.Content.Message)
			}
		}
	}
}

// tail prints messages on a direct chat as they land, until interrupted.
func tail(opts docopt.Opts) {
	app := openApp(opts)
	defer app.close()

	ctx, cancel := commandCtx()
	defer cancel()

	peer, _ := opts.String("<agent_id>")
	chat := app.chatsStore.DirectChat(peer)

	remove, err := chat.OnNewMessage(ctx, func(operation stores.Operation, content stores.MessageContent) {
		when := time.UnixMicro(operation.Header.Timestamp).Format("15:04:05")
		Out.Printf("%s %s: %s", when, operation.Header.PublicKey[:8], content.Message)
	})
	if err != nil {
		Err.Fatalf("tail: %s", err)
	}
	defer remove()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
}

func groupCreate(opts docopt.Opts) {
	app := openApp(opts)
	defer app.close()

	ctx, cancel := commandCtx()
	defer cancel()

	name, _ := opts.String("--name")
	members := []stores.AgentId{}
	if values, ok := opts["<member>"].([]string); ok {
		members = values
	}

	group, err := app.chatsStore.CreateGroup(ctx, name, members)
	if err != nil {
		Err.Fatalf("create group: %s", err)
	}
	Out.Printf("%s", group.ChatId())
}

func groupSend(opts docopt.Opts) {
	app := openApp(opts)
	defer app.close()

	ctx, cancel := commandCtx()
	defer cancel()

	chatId, _ := opts.String("--chat")
	message, _ := opts.String("<message>")

	group := app.chatsStore.GroupChat(chatId)
	if err := group.SendMessage(ctx, stores.TextMessage(message)); err != nil {
		Err.Fatalf("send: %s", err)
	}
	Out.Printf("sent")
}

func serve(opts docopt.Opts) {
	app := openApp(opts)
	defer app.close()

	listen, _ := opts.String("--listen")

	host := remote.NewHost(app.client)
	server := &http.Server{
		Addr:    listen,
		Handler: host,
	}

	go func() {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		<-sigs
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	Out.Printf("serving log store on ws://%s", listen)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		Err.Fatalf("serve: %s", err)
	}
}
