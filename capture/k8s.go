package capture

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
)

const k8sScheme = "k8s://"

func IsK8sAddress(host string) bool {
	return strings.HasPrefix(host, k8sScheme)
}

// Selector is the parsed form of a k8s:// address.
type Selector struct {
	Namespace     string
	LabelSelector string
	FieldSelector string
}

// ParseSelector parses the part after k8s://. Allowed format:
//
//	[namespace/]pod/[pod_name]
//	[namespace/]deployment/[deployment_name]
//	[namespace/]daemonset/[daemonset_name]
//	[namespace/]labelSelector/[selector]
//	[namespace/]fieldSelector/[selector]
func ParseSelector(addr string) (*Selector, error) {
	sections := strings.SplitN(addr, "/", 3)
	// If no namespace passed, assume it is ALL
	switch sections[0] {
	case "pod", "deployment", "daemonset", "labelSelector", "fieldSelector":
		sections = append([]string{""}, strings.SplitN(addr, "/", 2)...)
	}
	if len(sections) != 3 || sections[2] == "" {
		return nil, errors.Errorf("not supported k8s scheme %q, allowed values: "+
			"[namespace/]pod/[pod_name], [namespace/]deployment/[deployment_name], "+
			"[namespace/]daemonset/[daemonset_name], [namespace/]labelSelector/[selector], "+
			"[namespace/]fieldSelector/[selector]", addr)
	}

	var s Selector
	s.Namespace = sections[0]
	selectorValue := sections[2]
	switch sections[1] {
	case "pod":
		s.FieldSelector = "metadata.name=" + selectorValue
	case "deployment":
		s.LabelSelector = "app=" + selectorValue
	case "daemonset":
		s.LabelSelector = "pod-template-generation=1,name=" + selectorValue
	case "labelSelector":
		s.LabelSelector = selectorValue
	case "fieldSelector":
		s.FieldSelector = selectorValue
	default:
		return nil, errors.Errorf("unknown k8s selector type %q", sections[1])
	}
	return &s, nil
}

func k8sIPs(addr string) ([]string, error) {
	selector, err := ParseSelector(addr)
	if err != nil {
		return nil, err
	}

	config, err := rest.InClusterConfig()
	if err != nil {
		return nil, errors.Wrap(err, "k8s in-cluster config")
	}
	// creates the clientset
	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, errors.Wrap(err, "k8s clientset")
	}
	return podIPs(clientset, selector)
}

func podIPs(clientset kubernetes.Interface, selector *Selector) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pods, err := clientset.CoreV1().Pods(selector.Namespace).List(ctx, metav1.ListOptions{
		LabelSelector: selector.LabelSelector,
		FieldSelector: selector.FieldSelector,
	})
	if err != nil {
		return nil, errors.Wrap(err, "list pods")
	}

	var ips []string
	for _, pod := range pods.Items {
		for _, podIP := range pod.Status.PodIPs {
			ips = append(ips, podIP.IP)
		}
	}
	return ips, nil
}
