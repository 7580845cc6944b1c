// Package device brings up the Vulkan instance and logical device and owns
// everything that lives as long as the device does: queues, the memory
// allocator and the long-lived command pool.
package device

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/ext_debug_utils"
	"github.com/vkngwrapper/extensions/v3/khr_portability_enumeration"
	"github.com/vkngwrapper/extensions/v3/khr_surface"

	"github.com/vkngwrapper/framecore/gpuerr"
	"github.com/vkngwrapper/framecore/gpuerr/vkcheck"
	"github.com/vkngwrapper/framecore/lifetime"
)

const validationLayer = "VK_LAYER_KHRONOS_validation"

type InstanceOptions struct {
	AppName    string
	AppVersion common.Version

	// WindowExtensions are the instance extensions the windowing system
	// needs to create a surface. All of them are required.
	WindowExtensions []string

	// Validation enables the Khronos validation layer and routes its
	// messages into Logger. It is skipped with a warning when the layer is
	// not installed.
	Validation bool

	Logger *slog.Logger
}

type Instance struct {
	Driver  core1_0.CoreInstanceDriver
	Surface khr_surface.ExtensionDriver

	debug     ext_debug_utils.ExtensionDriver
	messenger ext_debug_utils.DebugUtilsMessenger
	logger    *slog.Logger
}

// CreateInstance creates the instance and, when validation is on, the debug
// messenger. Both are registered with lt.
func CreateInstance(global core1_0.GlobalDriver, opts InstanceOptions, lt *lifetime.Manager) (*Instance, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.AppVersion == 0 {
		opts.AppVersion = common.CreateVersion(1, 0, 0)
	}

	info := core1_0.InstanceCreateInfo{
		ApplicationName:    opts.AppName,
		ApplicationVersion: opts.AppVersion,
		EngineName:         "framecore",
		EngineVersion:      common.CreateVersion(1, 0, 0),
		APIVersion:         common.Vulkan1_2,
	}

	extensions, res, err := global.AvailableExtensions()
	if err != nil {
		return nil, gpuerr.At(vkcheck.Classify(res, err), gpuerr.StageInit, "instance extensions")
	}

	for _, ext := range opts.WindowExtensions {
		if _, ok := extensions[ext]; !ok {
			return nil, gpuerr.Initialization("instance extension %s required by the window is not available", ext)
		}
		info.EnabledExtensionNames = append(info.EnabledExtensionNames, ext)
	}

	if _, ok := extensions[khr_portability_enumeration.ExtensionName]; ok {
		info.EnabledExtensionNames = append(info.EnabledExtensionNames, khr_portability_enumeration.ExtensionName)
		info.Flags |= khr_portability_enumeration.InstanceCreateEnumeratePortability
	}

	validation := opts.Validation
	if validation {
		layers, res, err := global.AvailableLayers()
		if err != nil {
			return nil, gpuerr.At(vkcheck.Classify(res, err), gpuerr.StageInit, "instance layers")
		}
		_, hasLayer := layers[validationLayer]
		_, hasDebugUtils := extensions[ext_debug_utils.ExtensionName]

		switch {
		case !hasLayer:
			logger.Warn("validation requested but layer is not installed", "layer", validationLayer)
			validation = false
		case !hasDebugUtils:
			logger.Warn("validation requested but debug utils are unavailable", "extension", ext_debug_utils.ExtensionName)
			validation = false
		default:
			info.EnabledLayerNames = append(info.EnabledLayerNames, validationLayer)
			info.EnabledExtensionNames = append(info.EnabledExtensionNames, ext_debug_utils.ExtensionName)
		}
	}

	inst := &Instance{logger: logger}
	if validation {
		// Also catches messages from instance creation itself.
		info.Next = inst.messengerInfo()
	}

	handle, res, err := global.CreateInstance(nil, info)
	if err != nil {
		return nil, gpuerr.At(vkcheck.Classify(res, err), gpuerr.StageInit, "instance")
	}
	inst.Driver, err = global.BuildInstanceDriver(handle)
	if err != nil {
		return nil, gpuerr.At(gpuerr.Mark(err, gpuerr.ErrInitialization), gpuerr.StageInit, "instance driver")
	}
	lt.Register(lifetime.TierInstance, "instance", func() {
		inst.Driver.DestroyInstance(nil)
	})
	inst.Surface = khr_surface.CreateExtensionDriverFromCoreDriver(inst.Driver)

	logger.Info("instance created",
		"extensions", info.EnabledExtensionNames,
		"layers", info.EnabledLayerNames)

	if validation {
		inst.debug = ext_debug_utils.CreateExtensionDriverFromCoreDriver(inst.Driver)
		inst.messenger, res, err = inst.debug.CreateDebugUtilsMessenger(nil, inst.messengerInfo())
		if err != nil {
			return nil, gpuerr.At(vkcheck.Classify(res, err), gpuerr.StageInit, "debug messenger")
		}
		lt.Register(lifetime.TierDebugMessenger, "debug messenger", func() {
			inst.debug.DestroyDebugUtilsMessenger(inst.messenger, nil)
		})
	}

	return inst, nil
}

// RegisterSurface hands ownership of a window surface to lt.
func (i *Instance) RegisterSurface(surface khr_surface.Surface, lt *lifetime.Manager) {
	lt.Register(lifetime.TierSurface, "surface", func() {
		i.Surface.DestroySurface(surface, nil)
	})
}

func (i *Instance) messengerInfo() ext_debug_utils.DebugUtilsMessengerCreateInfo {
	return ext_debug_utils.DebugUtilsMessengerCreateInfo{
		MessageSeverity: ext_debug_utils.SeverityError | ext_debug_utils.SeverityWarning,
		MessageType:     ext_debug_utils.TypeGeneral | ext_debug_utils.TypeValidation | ext_debug_utils.TypePerformance,
		UserCallback:    i.logValidation,
	}
}

func (i *Instance) logValidation(msgType ext_debug_utils.DebugUtilsMessageTypeFlags, severity ext_debug_utils.DebugUtilsMessageSeverityFlags, data *ext_debug_utils.DebugUtilsMessengerCallbackData) bool {
	level := slog.LevelInfo
	switch {
	case severity&ext_debug_utils.SeverityError != 0:
		level = slog.LevelError
	case severity&ext_debug_utils.SeverityWarning != 0:
		level = slog.LevelWarn
	}
	i.logger.Log(context.Background(), level, data.Message, "type", msgType)
	return false
}

// requireExtensions returns the first name in want missing from have.
func requireExtensions[V any](have map[string]V, want []string) error {
	for _, name := range want {
		if _, ok := have[name]; !ok {
			return errors.Newf("missing extension %s", name)
		}
	}
	return nil
}
