package authn

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	attemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dm_authentication_attempts_total",
		Help: "Количество попыток аутентификации по каналу, режиму и коду результата.",
	}, []string{"channel", "mode", "result_code"})

	fallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dm_authentication_fallbacks_total",
		Help: "Количество переходов на локальную проверку по коду identity server и результату.",
	}, []string{"ids_result_code", "result_code"})

	accountsLockedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dm_accounts_locked_total",
		Help: "Количество автоматических блокировок учётных записей.",
	}, []string{"reason"})
)
