package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// BillingPolicy controls subscription period and schedule arithmetic.
// All human-facing times are decided in a fixed billing timezone offset.
type BillingPolicy struct {
	// PeriodDays is the length of one paid subscription period.
	PeriodDays int `mapstructure:"periodDays"`
	// GraceDays is the number of calendar days after the period end
	// during which access is still considered valid.
	GraceDays int `mapstructure:"graceDays"`
	// ScheduleWindowStartHour / ScheduleWindowEndHour bound the local
	// morning slot [start, end) in which the next auto-charge fires.
	ScheduleWindowStartHour int `mapstructure:"scheduleWindowStartHour"`
	ScheduleWindowEndHour   int `mapstructure:"scheduleWindowEndHour"`
	// TimezoneOffsetHours is the fixed UTC offset of the billing
	// timezone. No DST.
	TimezoneOffsetHours int    `mapstructure:"timezoneOffsetHours"`
	Currency            string `mapstructure:"currency"`
}

func DefaultBillingPolicy() BillingPolicy {
	return BillingPolicy{
		PeriodDays:              30,
		GraceDays:               1,
		ScheduleWindowStartHour: 10,
		ScheduleWindowEndHour:   11,
		TimezoneOffsetHours:     9,
		Currency:                "KRW",
	}
}

type BillingPolicyHolder struct {
	current atomic.Value // holds BillingPolicy
}

func NewBillingPolicyHolder() (*BillingPolicyHolder, error) {
	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/rebill/config") // Volume-mounted config
	v.AddConfigPath("/etc/rebill")            // System config
	v.AddConfigPath(".")                      // Current directory (dev mode)

	v.SetEnvPrefix("REBILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultBillingPolicy()
	v.SetDefault("billing.periodDays", defaults.PeriodDays)
	v.SetDefault("billing.graceDays", defaults.GraceDays)
	v.SetDefault("billing.scheduleWindowStartHour", defaults.ScheduleWindowStartHour)
	v.SetDefault("billing.scheduleWindowEndHour", defaults.ScheduleWindowEndHour)
	v.SetDefault("billing.timezoneOffsetHours", defaults.TimezoneOffsetHours)
	v.SetDefault("billing.currency", defaults.Currency)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var policy BillingPolicy
	if err := v.UnmarshalKey("billing", &policy); err != nil {
		return nil, err
	}
	if err := validateBillingPolicy(policy); err != nil {
		return nil, err
	}

	holder := &BillingPolicyHolder{}
	holder.current.Store(policy)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated BillingPolicy
		if err := v.UnmarshalKey("billing", &updated); err != nil {
			log.Printf("[billing-policy] reload failed: %v", err)
			return
		}
		if err := validateBillingPolicy(updated); err != nil {
			log.Printf("[billing-policy] invalid policy ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[billing-policy] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *BillingPolicyHolder) Get() BillingPolicy {
	return h.current.Load().(BillingPolicy)
}

func validateBillingPolicy(policy BillingPolicy) error {
	if policy.PeriodDays <= 0 {
		return errors.New("billing.periodDays must be positive")
	}
	if policy.GraceDays <= 0 {
		return errors.New("billing.graceDays must be positive")
	}
	if policy.ScheduleWindowStartHour < 0 || policy.ScheduleWindowStartHour > 23 {
		return errors.New("billing.scheduleWindowStartHour out of range")
	}
	if policy.ScheduleWindowEndHour <= policy.ScheduleWindowStartHour || policy.ScheduleWindowEndHour > 24 {
		return errors.New("billing.scheduleWindowEndHour must follow the window start")
	}
	if policy.TimezoneOffsetHours < -12 || policy.TimezoneOffsetHours > 14 {
		return errors.New("billing.timezoneOffsetHours out of range")
	}
	if strings.TrimSpace(policy.Currency) == "" {
		return errors.New("billing.currency cannot be empty")
	}
	return nil
}
