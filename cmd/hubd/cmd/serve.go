package cmd

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/klondi/mimicmod-lan/hub"
	"github.com/klondi/mimicmod-lan/hub/dispatch"
	"github.com/klondi/mimicmod-lan/hub/store"
	"github.com/klondi/mimicmod-lan/internal/limits"
	"github.com/klondi/mimicmod-lan/version"
)

var Root = &cobra.Command{
	Use: "hubd <command>",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Version:\t%s\nGo runtime:\t%s\n\n", version.String(), runtime.Version())
	},
}

var confManager *viper.Viper

type Config struct {
	Hub struct {
		Name    string `yaml:"name"`
		Desc    string `yaml:"desc"`
		Owner   string `yaml:"owner"`
		MOTD    string `yaml:"motd"`
		Private bool   `yaml:"private"`
	} `yaml:"hub"`

	Accounts struct {
		AllowGuests bool `yaml:"allow_guests" mapstructure:"allow_guests"`
	} `yaml:"accounts"`

	Limits struct {
		MaxUsers int `yaml:"max_users" mapstructure:"max_users"`
	} `yaml:"limits"`

	Chat struct {
		Only bool `yaml:"only"`
	} `yaml:"chat"`

	Serve struct {
		Host    string     `yaml:"host"`
		Port    int        `yaml:"port"`
		IRCPort int        `yaml:"irc_port" mapstructure:"irc_port"`
		TLS     *TLSConfig `yaml:"tls"`
	} `yaml:"serve"`
}

const defaultConfigFile = "hub.yml"

func initConfig(path string) error {
	return confManager.WriteConfigAs(path)
}

func readConfig(create bool) (*Config, hub.Map, error) {
	err := confManager.ReadInConfig()
	if err == nil {
		log.Printf("loaded config: %s\n", confManager.ConfigFileUsed())
	}
	if _, ok := err.(viper.ConfigFileNotFoundError); ok && create {
		if err = initConfig(defaultConfigFile); err != nil {
			return nil, nil, err
		}
		err = confManager.ReadInConfig()
	}
	if err != nil {
		return nil, nil, err
	}
	var c Config
	if err := confManager.Unmarshal(&c); err != nil {
		return nil, nil, err
	}
	var m map[string]interface{}
	if err := confManager.Unmarshal(&m); err != nil {
		return nil, nil, err
	}
	return &c, hub.Map(m), nil
}

func defaultLimits() limits.Policy {
	unbounded := limits.Bounds{}
	return limits.Policy{
		Guest:    limits.Class{Share: unbounded, Slots: limits.Bounds{Max: 10}, Hubs: limits.Bounds{Max: 5}},
		User:     limits.Class{Share: unbounded, Slots: limits.Bounds{Max: 50}, Hubs: limits.Bounds{Max: 20}},
		Operator: limits.Class{Share: unbounded, Slots: unbounded, Hubs: unbounded},
	}
}

func init() {
	confManager = viper.New()
	confManager.AddConfigPath(".")
	if runtime.GOOS != "windows" {
		confManager.AddConfigPath("/etc/hubd")
	}
	confManager.SetConfigName("hub")
	confManager.SetDefault("hub.motd", "")
	confManager.SetDefault("hub.private", false)
	confManager.SetDefault("accounts.allow_guests", true)
	confManager.SetDefault("limits.max_users", 4096)
	confManager.SetDefault("serve.host", "127.0.0.1")
	confManager.SetDefault("serve.port", 1511)
	confManager.SetDefault("serve.irc_port", 0)

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "write a default hub.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initConfig(defaultConfigFile); err != nil {
				return err
			}
			fmt.Println("initialized config:", defaultConfigFile)
			return nil
		},
	}
	Root.AddCommand(initCmd)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "run the hub",
	}
	flags := serveCmd.Flags()
	fPProf := flags.Bool("metrics", true, "serve prometheus metrics on :2112")
	flags.String("name", "mimicmod-lan", "name of the hub")
	confManager.BindPFlag("hub.name", flags.Lookup("name"))
	flags.String("desc", "an ADC hub", "description of the hub")
	confManager.BindPFlag("hub.desc", flags.Lookup("desc"))
	flags.String("host", "127.0.0.1", "host or IP to sign TLS certs for")
	confManager.BindPFlag("serve.host", flags.Lookup("host"))
	flags.Int("port", 1511, "ADC port to listen on")
	confManager.BindPFlag("serve.port", flags.Lookup("port"))
	flags.Int("irc-port", 0, "IRC bridge port to listen on (0 disables it)")
	confManager.BindPFlag("serve.irc_port", flags.Lookup("irc-port"))

	serveCmd.RunE = func(cmd *cobra.Command, args []string) error {
		conf, cmap, err := readConfig(true)
		if err != nil {
			return err
		}

		cert, kp, err := loadCert(conf)
		if err != nil {
			return err
		}
		tlsConf := &tls.Config{Certificates: []tls.Certificate{*cert}}

		db := store.OpenMemory()
		log.Println("WARNING: using in-memory account store; accounts do not persist across restarts")
		if n := loadSeedAccounts(db); n > 0 {
			log.Printf("loaded %d seed account(s) from %s\n", n, accountsFile)
		}

		h := hub.New(hub.Config{
			Name:        conf.Hub.Name,
			Desc:        conf.Hub.Desc,
			Owner:       conf.Hub.Owner,
			MaxUsers:    conf.Limits.MaxUsers,
			Limits:      defaultLimits(),
			ACL:         db,
			AllowGuests: conf.Accounts.AllowGuests,
			ChatOnly:    conf.Chat.Only,
			Persist: func(key string, val interface{}) {
				confManager.Set(key, val)
				_ = confManager.WriteConfig()
			},
		})
		h.MergeConfig(cmap)
		if conf.Hub.MOTD != "" {
			h.SetConfigString(hub.ConfigHubMOTD, conf.Hub.MOTD)
		}

		disp, err := dispatch.New("")
		if err != nil {
			return err
		}
		h.WireDispatcher(disp)

		if *fPProf {
			const promAddr = ":2112"
			log.Println("serving metrics on", promAddr)
			go func() {
				if err := http.ListenAndServe(promAddr, promhttp.Handler()); err != nil {
					log.Println("cannot serve metrics:", err)
				}
			}()
		}

		addr := conf.Serve.Host + ":" + strconv.Itoa(conf.Serve.Port)
		log.Println("listening on", addr, "kp:", kp)

		if conf.Serve.IRCPort > 0 {
			ircAddr := conf.Serve.Host + ":" + strconv.Itoa(conf.Serve.IRCPort)
			go func() {
				ln, err := (&net.ListenConfig{}).Listen(context.Background(), "tcp", ircAddr)
				if err != nil {
					log.Println("irc bridge disabled:", err)
					return
				}
				log.Println("irc bridge listening on", ircAddr)
				for {
					conn, err := ln.Accept()
					if err != nil {
						return
					}
					go func() {
						if err := h.ServeIRC(conn); err != nil {
							log.Println("irc:", err)
						}
					}()
				}
			}()
		}

		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt)
		go func() {
			<-ch
			log.Println("stopping server")
			h.Shutdown("hub is shutting down")
			os.Exit(0)
		}()

		Root.SilenceUsage = true
		return h.ListenAndServe(addr, tlsConf, conf.Limits.MaxUsers*2)
	}
	Root.AddCommand(serveCmd)
}
